package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration. Every key can be overridden by an
// environment variable named STATUSD_ plus the upper-cased key path, with dots
// replaced by underscores (STATUSD_STORE_REDIS_ADDR).
type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	HTTPPort        string        `mapstructure:"http_port"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Visibility VisibilityConfig `mapstructure:"visibility"`
	Store      StoreConfig      `mapstructure:"store"`
	Events     EventsConfig     `mapstructure:"events"`
	Audit      AuditConfig      `mapstructure:"audit"`
}

type VisibilityConfig struct {
	EnumerationAllowed bool `mapstructure:"enumeration_allowed"`
	RestrictToGroup    bool `mapstructure:"restrict_to_group"`
	RestrictToPhone    bool `mapstructure:"restrict_to_phone"`
}

type StoreConfig struct {
	// Type is one of memory, redis, firestore, postgres, mysql or sqlite.
	Type      string          `mapstructure:"type"`
	Redis     RedisConfig     `mapstructure:"redis"`
	SQL       SQLConfig       `mapstructure:"sql"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SQLConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type FirestoreConfig struct {
	Collection string `mapstructure:"collection"`
}

// EventsConfig controls the Pub/Sub status-event pipeline.
type EventsConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	SubscriptionID    string `mapstructure:"subscription_id"`
	DeadLetterTopicID string `mapstructure:"dead_letter_topic_id"`
	Workers           int    `mapstructure:"workers"`
	MaxOutstanding    int    `mapstructure:"max_outstanding"`
	MinPayloadBytes   int    `mapstructure:"min_payload_bytes"`
	MaxPayloadBytes   int    `mapstructure:"max_payload_bytes"`
}

// AuditConfig selects where status-change rows go.
type AuditConfig struct {
	// Sink is one of log, bigquery, gcs or pubsub.
	Sink          string             `mapstructure:"sink"`
	BatchSize     int                `mapstructure:"batch_size"`
	FlushInterval time.Duration      `mapstructure:"flush_interval"`
	InsertTimeout time.Duration      `mapstructure:"insert_timeout"`
	BigQuery      BigQuerySinkConfig `mapstructure:"bigquery"`
	GCS           GCSSinkConfig      `mapstructure:"gcs"`
	Pubsub        PubsubSinkConfig   `mapstructure:"pubsub"`
}

type BigQuerySinkConfig struct {
	DatasetID string `mapstructure:"dataset_id"`
	TableID   string `mapstructure:"table_id"`
}

type GCSSinkConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type PubsubSinkConfig struct {
	TopicID string `mapstructure:"topic_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_port", ":8080")
	v.SetDefault("project_id", "")
	v.SetDefault("credentials_file", "")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("visibility.enumeration_allowed", true)
	v.SetDefault("visibility.restrict_to_group", false)
	v.SetDefault("visibility.restrict_to_phone", false)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "userstatus")
	v.SetDefault("store.sql.dsn", "data/userstatus.db?_journal_mode=WAL&_busy_timeout=5000")
	v.SetDefault("store.sql.max_open_conns", 10)
	v.SetDefault("store.sql.max_idle_conns", 5)
	v.SetDefault("store.firestore.collection", "user_status")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.subscription_id", "user-status-events")
	v.SetDefault("events.dead_letter_topic_id", "")
	v.SetDefault("events.workers", 5)
	v.SetDefault("events.max_outstanding", 100)
	v.SetDefault("events.min_payload_bytes", 2)
	v.SetDefault("events.max_payload_bytes", 4096)

	v.SetDefault("audit.sink", "log")
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 5*time.Second)
	v.SetDefault("audit.insert_timeout", 30*time.Second)
	v.SetDefault("audit.bigquery.dataset_id", "user_status")
	v.SetDefault("audit.bigquery.table_id", "status_changes")
	v.SetDefault("audit.gcs.bucket", "")
	v.SetDefault("audit.gcs.prefix", "status-changes")
	v.SetDefault("audit.pubsub.topic_id", "user-status-changes")
}

// LoadConfig reads statusd.yaml from path, or from . and ./configs when path
// is empty, then applies environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("statusd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("STATUSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combinations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "redis", "postgres", "mysql", "sqlite":
	case "firestore":
		if c.ProjectID == "" {
			return errors.New("project_id is required for the firestore store")
		}
	default:
		return fmt.Errorf("unsupported store type %q", c.Store.Type)
	}

	if !c.Events.Enabled {
		return nil
	}
	if c.ProjectID == "" {
		return errors.New("project_id is required when events are enabled")
	}
	if c.Events.SubscriptionID == "" {
		return errors.New("events.subscription_id is required when events are enabled")
	}
	switch c.Audit.Sink {
	case "log", "bigquery", "pubsub":
	case "gcs":
		if c.Audit.GCS.Bucket == "" {
			return errors.New("audit.gcs.bucket is required for the gcs sink")
		}
	default:
		return fmt.Errorf("unsupported audit sink %q", c.Audit.Sink)
	}
	return nil
}
