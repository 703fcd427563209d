// Package messagepipeline moves broker messages through consume, transform and
// process stages with explicit Ack/Nack handling.
package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-userstatus/pkg/types"
)

// MessageConsumer is a message source such as a Pub/Sub subscription.
type MessageConsumer interface {
	// Messages returns the channel workers read from. It is closed when the consumer stops.
	Messages() <-chan types.ConsumedMessage
	// Start begins consumption in the background.
	Start(ctx context.Context) error
	// Stop ceases consumption and waits for background work, bounded by ctx.
	Stop(ctx context.Context) error
	// Done is closed once the consumer has fully shut down.
	Done() <-chan struct{}
}

// MessageTransformer turns a consumed message into a payload of type T.
//
// Returning skip=true acknowledges the message without handing it on. Returning
// an error Nacks it for redelivery.
type MessageTransformer[T any] func(ctx context.Context, msg types.ConsumedMessage) (payload *T, skip bool, err error)

// MessageProcessor is the final stage. It owns Ack/Nack of every message it
// accepts through Input.
type MessageProcessor[T any] interface {
	Input() chan<- *types.BatchedMessage[T]
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}
