package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-userstatus/pkg/auditstore"
	"github.com/illmade-knight/go-userstatus/pkg/messagepipeline"
	"github.com/illmade-knight/go-userstatus/pkg/statusevents"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/rs/zerolog"
)

// eventPipeline owns the Pub/Sub event flow and the clients it created.
type eventPipeline struct {
	service    *messagepipeline.ProcessingService[auditstore.StatusChange]
	consumer   *messagepipeline.GooglePubsubConsumer
	deadLetter messagepipeline.SimplePublisher
	closers    []func() error
}

func newEventPipeline(ctx context.Context, cfg *Config, svc *userstatus.Service, logger zerolog.Logger) (*eventPipeline, error) {
	p := &eventPipeline{}

	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p.closers = append(p.closers, psClient.Close)

	fail := func(err error) (*eventPipeline, error) {
		p.close(logger)
		return nil, err
	}

	consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(cfg.Events.SubscriptionID)
	consumerCfg.ProjectID = cfg.ProjectID
	consumerCfg.MaxOutstandingMessages = cfg.Events.MaxOutstanding
	p.consumer, err = messagepipeline.NewGooglePubsubConsumer(consumerCfg, psClient, logger)
	if err != nil {
		return fail(err)
	}

	if cfg.Events.DeadLetterTopicID != "" {
		publisher, err := messagepipeline.NewGoogleSimplePublisher(ctx, messagepipeline.NewGoogleSimplePublisherDefaults(cfg.Events.DeadLetterTopicID), psClient, logger)
		if err != nil {
			return fail(err)
		}
		p.deadLetter = publisher
	}

	sink, err := p.newAuditSink(ctx, cfg, psClient, logger)
	if err != nil {
		return fail(err)
	}

	transformer := messagepipeline.WithPayloadValidation(
		statusevents.NewStatusEventTransformer(svc, p.deadLetter, logger),
		cfg.Events.MinPayloadBytes,
		cfg.Events.MaxPayloadBytes,
		logger,
	)
	p.service, err = messagepipeline.NewProcessingService[auditstore.StatusChange](cfg.Events.Workers, p.consumer, sink, transformer, logger)
	if err != nil {
		return fail(err)
	}
	return p, nil
}

func (p *eventPipeline) newAuditSink(ctx context.Context, cfg *Config, psClient *pubsub.Client, logger zerolog.Logger) (messagepipeline.MessageProcessor[auditstore.StatusChange], error) {
	batchCfg := &auditstore.BatchInserterConfig{
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		InsertTimeout: cfg.Audit.InsertTimeout,
	}

	switch cfg.Audit.Sink {
	case "log":
		return auditstore.NewBatcher[auditstore.StatusChange](batchCfg, auditstore.NewLogInserter[auditstore.StatusChange](logger), logger), nil

	case "bigquery":
		bqCfg := &auditstore.BigQueryDatasetConfig{
			ProjectID:       cfg.ProjectID,
			DatasetID:       cfg.Audit.BigQuery.DatasetID,
			TableID:         cfg.Audit.BigQuery.TableID,
			CredentialsFile: cfg.CredentialsFile,
		}
		client, err := auditstore.NewBigQueryClient(ctx, bqCfg, logger)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, client.Close)
		inserter, err := auditstore.NewBigQueryInserter[auditstore.StatusChange](ctx, client, bqCfg, logger)
		if err != nil {
			return nil, err
		}
		return auditstore.NewBatcher[auditstore.StatusChange](batchCfg, inserter, logger), nil

	case "gcs":
		client, err := storage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		p.closers = append(p.closers, client.Close)
		inserter, err := auditstore.NewGCSInserter[auditstore.StatusChange](
			auditstore.NewGCSClientAdapter(client),
			&auditstore.GCSInserterConfig{BucketName: cfg.Audit.GCS.Bucket, ObjectPrefix: cfg.Audit.GCS.Prefix},
			auditstore.StatusChangeDateKey,
			logger,
		)
		if err != nil {
			return nil, err
		}
		return auditstore.NewBatcher[auditstore.StatusChange](batchCfg, inserter, logger), nil

	case "pubsub":
		return messagepipeline.NewGooglePubsubProducer[auditstore.StatusChange](ctx, messagepipeline.NewGooglePubsubProducerDefaults(cfg.Audit.Pubsub.TopicID), psClient, logger)
	}
	return nil, fmt.Errorf("unsupported audit sink %q", cfg.Audit.Sink)
}

// ready fails once the consumer's receive loop has exited.
func (p *eventPipeline) ready(context.Context) error {
	select {
	case <-p.consumer.Done():
		return errors.New("event consumer stopped")
	default:
		return nil
	}
}

func (p *eventPipeline) stop(ctx context.Context, logger zerolog.Logger) error {
	err := p.service.Stop(ctx)
	if p.deadLetter != nil {
		if dlErr := p.deadLetter.Stop(ctx); dlErr != nil {
			logger.Warn().Err(dlErr).Msg("Failed to flush dead-letter publisher.")
		}
	}
	p.close(logger)
	return err
}

// close releases clients in reverse creation order.
func (p *eventPipeline) close(logger zerolog.Logger) {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("Failed to close client.")
		}
	}
	p.closers = nil
}
