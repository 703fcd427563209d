package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/rs/zerolog"
)

// GooglePubsubProducerConfig configures a GooglePubsubProducer.
type GooglePubsubProducerConfig struct {
	TopicID string
	// BatchSize maps to the client's CountThreshold.
	BatchSize int
	// BatchDelay maps to the client's DelayThreshold.
	BatchDelay                 time.Duration
	InputChannelMultiplier     int
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducerDefaults returns a config for topicID with sensible defaults.
func NewGooglePubsubProducerDefaults(topicID string) *GooglePubsubProducerConfig {
	return &GooglePubsubProducerConfig{
		TopicID:                    topicID,
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		InputChannelMultiplier:     2,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
}

// GooglePubsubProducer is a MessageProcessor that publishes each payload as
// JSON to a topic. The original message is Acked once the publish is
// confirmed and Nacked if it fails.
type GooglePubsubProducer[T any] struct {
	topic          *pubsub.Topic
	logger         zerolog.Logger
	inputChan      chan *types.BatchedMessage[T]
	wg             sync.WaitGroup
	confirmWg      sync.WaitGroup
	confirmTimeout time.Duration
}

// NewGooglePubsubProducer creates a producer after checking that the topic exists.
func NewGooglePubsubProducer[T any](
	ctx context.Context,
	cfg *GooglePubsubProducerConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GooglePubsubProducer[T], error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil for producer")
	}
	if cfg.InputChannelMultiplier <= 0 {
		cfg.InputChannelMultiplier = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("GooglePubsubProducer initialized.")
	return &GooglePubsubProducer[T]{
		topic:          topic,
		logger:         logger.With().Str("component", "GooglePubsubProducer").Str("topic_id", cfg.TopicID).Logger(),
		inputChan:      make(chan *types.BatchedMessage[T], cfg.BatchSize*cfg.InputChannelMultiplier),
		confirmTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Input returns the channel payloads are sent on.
func (p *GooglePubsubProducer[T]) Input() chan<- *types.BatchedMessage[T] {
	return p.inputChan
}

// Start runs the publishing loop until Input is closed by Stop.
func (p *GooglePubsubProducer[T]) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range p.inputChan {
			p.publish(ctx, msg)
		}
	}()
}

func (p *GooglePubsubProducer[T]) publish(ctx context.Context, msg *types.BatchedMessage[T]) {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		p.logger.Error().Err(err).Str("original_msg_id", msg.OriginalMessage.ID).Msg("Failed to marshal payload, Nacking.")
		msg.OriginalMessage.NackIfSet()
		return
	}

	// Publish must outlive a cancelled pipeline context while draining.
	res := p.topic.Publish(context.WithoutCancel(ctx), &pubsub.Message{
		Data:       data,
		Attributes: msg.OriginalMessage.Attributes,
	})

	p.confirmWg.Add(1)
	go func() {
		defer p.confirmWg.Done()
		getCtx, cancel := context.WithTimeout(context.Background(), p.confirmTimeout)
		defer cancel()

		msgID, err := res.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Str("original_msg_id", msg.OriginalMessage.ID).Msg("Publish failed, Nacking.")
			msg.OriginalMessage.NackIfSet()
			return
		}
		p.logger.Debug().Str("original_msg_id", msg.OriginalMessage.ID).Str("pubsub_msg_id", msgID).Msg("Published.")
		msg.OriginalMessage.AckIfSet()
	}()
}

// Stop closes Input, waits for queued payloads and confirmations, then flushes the topic.
func (p *GooglePubsubProducer[T]) Stop(ctx context.Context) error {
	p.logger.Info().Msg("Stopping Pub/Sub producer...")
	close(p.inputChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.topic.Stop()
		p.confirmWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Pub/Sub producer stopped.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub producer to flush.")
		return ctx.Err()
	}
}
