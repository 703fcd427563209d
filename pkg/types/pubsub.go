// Package types holds the message envelopes shared by the pipeline stages.
package types

import (
	"time"
)

// ConsumedMessage is a broker message handed to the pipeline together with
// its acknowledgement handles.
type ConsumedMessage struct {
	PublishMessage

	Attributes map[string]string

	// Ack confirms the message; it will not be redelivered.
	Ack func()
	// Nack rejects the message so the broker redelivers it.
	Nack func()
}

// PublishMessage is the broker-independent content of a message.
type PublishMessage struct {
	// ID is the broker-assigned message ID.
	ID string `json:"id"`
	// Payload is the raw message body.
	Payload []byte `json:"payload"`
	// PublishTime is when the broker accepted the message.
	PublishTime time.Time `json:"publishTime"`
}

// BatchedMessage pairs a transformed payload with the message it came from,
// so the final stage can Ack or Nack the original.
type BatchedMessage[T any] struct {
	OriginalMessage ConsumedMessage
	Payload         *T
}

// AckIfSet calls Ack when it is set.
func (m ConsumedMessage) AckIfSet() {
	if m.Ack != nil {
		m.Ack()
	}
}

// NackIfSet calls Nack when it is set.
func (m ConsumedMessage) NackIfSet() {
	if m.Nack != nil {
		m.Nack()
	}
}
