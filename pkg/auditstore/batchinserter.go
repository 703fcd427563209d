// Package auditstore persists the status-change rows produced by the event
// pipeline. BatchInserter buffers rows and hands them to a DataBatchInserter
// (BigQuery, Cloud Storage or the log), acking the source messages only once
// the batch has been written.
package auditstore

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/rs/zerolog"
)

// DataBatchInserter writes a batch of rows to a destination.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BatchInserterConfig holds configuration for the BatchInserter.
type BatchInserterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// InsertTimeout bounds a single InsertBatch call.
	InsertTimeout time.Duration
}

// BatchInserterConfigDefaults returns the batching settings used by statusd.
func BatchInserterConfigDefaults() *BatchInserterConfig {
	return &BatchInserterConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// BatchInserter batches rows of type T and flushes them to a DataBatchInserter.
// It implements messagepipeline.MessageProcessor[T].
type BatchInserter[T any] struct {
	config    *BatchInserterConfig
	inserter  DataBatchInserter[T]
	logger    zerolog.Logger
	inputChan chan *types.BatchedMessage[T]
	wg        sync.WaitGroup
}

// NewBatcher creates a BatchInserter. Non-positive settings fall back to the defaults.
func NewBatcher[T any](
	config *BatchInserterConfig,
	inserter DataBatchInserter[T],
	logger zerolog.Logger,
) *BatchInserter[T] {
	cfg := *config
	defaults := BatchInserterConfigDefaults()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = defaults.InsertTimeout
	}
	return &BatchInserter[T]{
		config:    &cfg,
		inserter:  inserter,
		logger:    logger.With().Str("component", "BatchInserter").Logger(),
		inputChan: make(chan *types.BatchedMessage[T], cfg.BatchSize*2),
	}
}

// Start runs the batching worker until ctx ends or Stop closes the input.
func (b *BatchInserter[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting BatchInserter worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop closes the input, waits for the final flush, then closes the inserter.
func (b *BatchInserter[T]) Stop(ctx context.Context) error {
	b.logger.Info().Msg("Stopping BatchInserter...")
	close(b.inputChan)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("BatchInserter worker stopped gracefully.")
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for BatchInserter worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data inserter")
		return err
	}
	b.logger.Info().Msg("BatchInserter stopped.")
	return nil
}

// Input returns the channel rows are sent on.
func (b *BatchInserter[T]) Input() chan<- *types.BatchedMessage[T] {
	return b.inputChan
}

func (b *BatchInserter[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.WithoutCancel(ctx), batch)
			return

		case msg, ok := <-b.inputChan:
			if !ok {
				b.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}
		}
	}
}

// flush writes the batch and acks or nacks every source message together.
func (b *BatchInserter[T]) flush(ctx context.Context, batch []*types.BatchedMessage[T]) {
	if len(batch) == 0 {
		return
	}

	payloads := make([]*T, len(batch))
	for i, msg := range batch {
		payloads[i] = msg.Payload
	}

	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(insertCtx, payloads); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch, Nacking messages.")
		for _, msg := range batch {
			msg.OriginalMessage.NackIfSet()
		}
		return
	}
	b.logger.Info().Int("batch_size", len(batch)).Msg("Successfully flushed batch, Acking messages.")
	for _, msg := range batch {
		msg.OriginalMessage.AckIfSet()
	}
}
