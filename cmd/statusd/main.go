// Command statusd runs the user status service: it keeps the status store
// healthy behind readiness probes and, when enabled, applies automated status
// events from Pub/Sub and records every change to an audit sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-userstatus/pkg/catalog"
	"github.com/illmade-knight/go-userstatus/pkg/microservice"
	"github.com/illmade-knight/go-userstatus/pkg/statusstore"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to statusd.yaml (optional)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "statusd: %v\n", err)
		return 1
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runDaemon(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("statusd exited with error")
		return 1
	}
	return 0
}

func newLogger(cfg *Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("service", "statusd").Logger()
}

func clientOptions(cfg *Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

func runDaemon(ctx context.Context, cfg *Config, logger zerolog.Logger) error {
	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close status store.")
		}
	}()

	svcCfg := userstatus.Config{Visibility: userstatus.Visibility{
		EnumerationAllowed: cfg.Visibility.EnumerationAllowed,
		RestrictToGroup:    cfg.Visibility.RestrictToGroup,
		RestrictToPhone:    cfg.Visibility.RestrictToPhone,
	}}
	svc, err := userstatus.NewService(svcCfg, store, catalog.NewDefaultCatalog(), catalog.GlyphValidator{}, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create status service: %w", err)
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort)
	server.AddReadinessCheck("store", store.Ping)

	var pipeline *eventPipeline
	if cfg.Events.Enabled {
		pipeline, err = newEventPipeline(ctx, cfg, svc, logger)
		if err != nil {
			return err
		}
		if err := pipeline.service.Start(ctx); err != nil {
			pipeline.close(logger)
			return fmt.Errorf("failed to start event pipeline: %w", err)
		}
		server.AddReadinessCheck("events", pipeline.ready)
	}

	if err := server.Start(); err != nil {
		if pipeline != nil {
			pipeline.stop(context.Background(), logger)
		}
		return err
	}
	logger.Info().Str("store", cfg.Store.Type).Bool("events", cfg.Events.Enabled).Msg("statusd started.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if pipeline != nil {
		errs = append(errs, pipeline.stop(shutdownCtx, logger))
	}
	errs = append(errs, server.Shutdown(shutdownCtx))
	return errors.Join(errs...)
}

func newStore(ctx context.Context, cfg *Config, logger zerolog.Logger) (statusstore.StatusStore, error) {
	switch cfg.Store.Type {
	case "memory":
		logger.Warn().Msg("Using in-memory status store; statuses are lost on restart.")
		return statusstore.NewInMemoryStore(), nil
	case "redis":
		return statusstore.NewRedisStore(ctx, &statusstore.RedisConfig{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		}, logger)
	case "postgres", "mysql", "sqlite":
		return statusstore.NewSQLStore(ctx, &statusstore.SQLConfig{
			Driver:       cfg.Store.Type,
			DSN:          cfg.Store.SQL.DSN,
			MaxOpenConns: cfg.Store.SQL.MaxOpenConns,
			MaxIdleConns: cfg.Store.SQL.MaxIdleConns,
		}, logger)
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := statusstore.NewFirestoreStore(&statusstore.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.Store.Firestore.Collection,
		}, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &firestoreOwner{FirestoreStore: store, client: client}, nil
	}
	return nil, fmt.Errorf("unsupported store type %q", cfg.Store.Type)
}

// firestoreOwner closes the client the daemon created for the store.
type firestoreOwner struct {
	*statusstore.FirestoreStore
	client *firestore.Client
}

func (f *firestoreOwner) Close() error {
	return errors.Join(f.FirestoreStore.Close(), f.client.Close())
}
