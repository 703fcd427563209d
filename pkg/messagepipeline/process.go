package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/rs/zerolog"
)

// ProcessingService runs a pool of workers that read from a MessageConsumer,
// apply a MessageTransformer and hand the result to a MessageProcessor.
type ProcessingService[T any] struct {
	numWorkers   int
	consumer     MessageConsumer
	processor    MessageProcessor[T]
	transformer  MessageTransformer[T]
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewProcessingService creates a ProcessingService. A non-positive numWorkers defaults to 5.
func NewProcessingService[T any](
	numWorkers int,
	consumer MessageConsumer,
	processor MessageProcessor[T],
	transformer MessageTransformer[T],
	logger zerolog.Logger,
) (*ProcessingService[T], error) {
	if consumer == nil || processor == nil || transformer == nil {
		return nil, errors.New("consumer, processor, and transformer cannot be nil")
	}
	if numWorkers <= 0 {
		numWorkers = 5
	}
	return &ProcessingService[T]{
		numWorkers:  numWorkers,
		consumer:    consumer,
		processor:   processor,
		transformer: transformer,
		logger:      logger.With().Str("service", "ProcessingService").Logger(),
	}, nil
}

// Start starts the processor, then the consumer, then the workers.
func (s *ProcessingService[T]) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting ProcessingService...")
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)

	s.processor.Start(s.shutdownCtx)

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		_ = s.processor.Stop(context.Background())
		s.shutdownFunc()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return nil
}

func (s *ProcessingService[T]) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")
	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.processConsumedMessage(s.shutdownCtx, msg, workerID)
		}
	}
}

func (s *ProcessingService[T]) processConsumedMessage(ctx context.Context, msg types.ConsumedMessage, workerID int) {
	s.logger.Debug().Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Transforming message.")

	payload, skip, err := s.transformer(ctx, msg)
	if err != nil {
		s.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to transform message, Nacking.")
		msg.NackIfSet()
		return
	}
	if skip {
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Transformer signaled to skip message, Acking.")
		msg.AckIfSet()
		return
	}

	select {
	case s.processor.Input() <- &types.BatchedMessage[T]{OriginalMessage: msg, Payload: payload}:
	case <-ctx.Done():
		s.logger.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking message.")
		msg.NackIfSet()
	}
}

// Stop stops the consumer, waits for in-flight workers, then stops the
// processor so it can flush. ctx bounds the whole shutdown. If the workers do
// not finish in time they are cancelled, messages they still hold are Nacked,
// and the processor input is left open since a worker may still be sending.
func (s *ProcessingService[T]) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping ProcessingService...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()
	select {
	case <-workerDone:
		s.logger.Info().Msg("All processing workers completed.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish, cancelling.")
		if s.shutdownFunc != nil {
			s.shutdownFunc()
		}
		return ctx.Err()
	}

	var stopErr error
	if err := s.processor.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during processor stop.")
		stopErr = err
	}

	if s.shutdownFunc != nil {
		s.shutdownFunc()
	}
	s.logger.Info().Msg("ProcessingService stopped.")
	return stopErr
}
