package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// SimplePublisher publishes single messages without batching. It is used for
// dead-lettering events the pipeline cannot decode.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes pending messages, bounded by ctx.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisherConfig configures a GoogleSimplePublisher.
type GoogleSimplePublisherConfig struct {
	TopicID                    string
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewGoogleSimplePublisherDefaults returns a config for topicID with sensible defaults.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	return &GoogleSimplePublisherConfig{
		TopicID:                    topicID,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 30 * time.Second,
	}
}

// GoogleSimplePublisher implements SimplePublisher on a Pub/Sub topic.
type GoogleSimplePublisher struct {
	topic          *pubsub.Topic
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// NewGoogleSimplePublisher creates a publisher after checking that the topic exists.
func NewGoogleSimplePublisher(ctx context.Context, cfg *GoogleSimplePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &GoogleSimplePublisher{
		topic:          topic,
		confirmTimeout: cfg.PublishConfirmationTimeout,
		logger:         logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
	}, nil
}

// Publish queues a message and returns immediately. The publish result is logged asynchronously.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		getCtx, cancel := context.WithTimeout(context.Background(), p.confirmTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish message.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Message published.")
	}()
	return nil
}

// Stop flushes pending messages for the topic.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
