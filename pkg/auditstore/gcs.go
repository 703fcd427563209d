package auditstore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GCSClient abstracts *storage.Client down to what the archive needs.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}

// GCSWriter abstracts *storage.Writer.
type GCSWriter interface {
	io.WriteCloser
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter wraps a *storage.Client as a GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	w := a.handle.NewWriter(ctx)
	w.ContentType = "application/jsonl"
	w.ContentEncoding = "gzip"
	return w
}

// GCSInserterConfig configures where archive objects are written.
type GCSInserterConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSInserterConfigDefaults returns the archive layout used by statusd.
func GCSInserterConfigDefaults() *GCSInserterConfig {
	return &GCSInserterConfig{ObjectPrefix: "status-changes"}
}

// GCSInserter archives rows as gzip-compressed JSON lines. Each batch is split
// by key and every group becomes one object named {prefix}/{key}/{uuid}.jsonl.gz.
type GCSInserter[T any] struct {
	client GCSClient
	config GCSInserterConfig
	keyFn  func(*T) string
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSInserter creates an archive inserter. A nil keyFn groups rows by the
// UTC upload date.
func NewGCSInserter[T any](client GCSClient, cfg *GCSInserterConfig, keyFn func(*T) string, logger zerolog.Logger) (*GCSInserter[T], error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg == nil || cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if keyFn == nil {
		keyFn = func(*T) string { return time.Now().UTC().Format("2006/01/02") }
	}
	return &GCSInserter[T]{
		client: client,
		config: *cfg,
		keyFn:  keyFn,
		logger: logger.With().Str("component", "GCSInserter").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// InsertBatch uploads each key group in parallel and joins their errors.
func (u *GCSInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	groups := make(map[string][]*T)
	for _, item := range items {
		if item == nil {
			continue
		}
		key := u.keyFn(item)
		groups[key] = append(groups[key], item)
	}
	if len(groups) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for key, group := range groups {
		wg.Add(1)
		u.wg.Add(1)
		go func(key string, group []*T) {
			defer wg.Done()
			defer u.wg.Done()
			if err := u.upload(ctx, key, group); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(key, group)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (u *GCSInserter[T]) upload(ctx context.Context, key string, rows []*T) error {
	objectName := path.Join(u.config.ObjectPrefix, key, uuid.NewString()+".jsonl.gz")
	writer := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx)
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, row := range rows {
			if err = enc.Encode(row); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
		err = gz.Close()
	}()

	written, copyErr := io.Copy(writer, pr)
	closeErr := writer.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}
	u.logger.Info().Str("object_name", objectName).Int("record_count", len(rows)).Int64("bytes_written", written).Msg("Uploaded audit batch.")
	return nil
}

// Close waits for in-flight uploads.
func (u *GCSInserter[T]) Close() error {
	u.wg.Wait()
	return nil
}
