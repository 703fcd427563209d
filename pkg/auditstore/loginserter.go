package auditstore

import (
	"context"

	"github.com/rs/zerolog"
)

// LogInserter writes each row as a structured log event. It is the audit sink
// for local runs without cloud credentials.
type LogInserter[T any] struct {
	logger zerolog.Logger
}

// NewLogInserter creates a LogInserter.
func NewLogInserter[T any](logger zerolog.Logger) *LogInserter[T] {
	return &LogInserter[T]{logger: logger.With().Str("component", "LogInserter").Logger()}
}

// InsertBatch logs every row at info level.
func (l *LogInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	for _, item := range items {
		if item == nil {
			continue
		}
		l.logger.Info().Interface("row", item).Msg("Status change.")
	}
	return nil
}

// Close is a no-op.
func (l *LogInserter[T]) Close() error { return nil }
