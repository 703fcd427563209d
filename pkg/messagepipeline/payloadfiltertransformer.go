package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/rs/zerolog"
)

// WithPayloadValidation wraps a transformer so messages whose payload size is
// outside [minSize, maxSize] are skipped before inner runs.
func WithPayloadValidation[T any](
	inner MessageTransformer[T],
	minSize int,
	maxSize int,
	logger zerolog.Logger,
) MessageTransformer[T] {
	return func(ctx context.Context, msg types.ConsumedMessage) (*T, bool, error) {
		n := len(msg.Payload)
		if n < minSize || n > maxSize {
			logger.Warn().Str("msg_id", msg.ID).Int("payload_size", n).Msg("Rejecting message due to invalid payload size.")
			return nil, true, nil
		}
		return inner(ctx, msg)
	}
}
