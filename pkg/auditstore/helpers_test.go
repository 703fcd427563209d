package auditstore_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-userstatus/pkg/auditstore"
)

type testRow struct {
	ID  int    `json:"id"`
	Key string `json:"key"`
}

// mockDataBatchInserter records every batch it is given.
type mockDataBatchInserter[T any] struct {
	mu            sync.Mutex
	receivedItems [][]*T
	closed        bool
	insertBatchFn func(ctx context.Context, items []*T) error
}

func (m *mockDataBatchInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	m.mu.Lock()
	m.receivedItems = append(m.receivedItems, items)
	fn := m.insertBatchFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, items)
	}
	return nil
}

func (m *mockDataBatchInserter[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockDataBatchInserter[T]) batches() [][]*T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*T, len(m.receivedItems))
	copy(out, m.receivedItems)
	return out
}

func (m *mockDataBatchInserter[T]) callCount() int {
	return len(m.batches())
}

func (m *mockDataBatchInserter[T]) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockGCSWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	closeErr error
}

func (w *mockGCSWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errors.New("write on closed writer")
	}
	return w.buf.Write(p)
}

func (w *mockGCSWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.closeErr
}

func (w *mockGCSWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

type mockGCSObjectHandle struct {
	writer *mockGCSWriter
}

func (o *mockGCSObjectHandle) NewWriter(context.Context) auditstore.GCSWriter {
	return o.writer
}

type mockGCSBucketHandle struct {
	mu       sync.Mutex
	objects  map[string]*mockGCSWriter
	closeErr error
}

func (b *mockGCSBucketHandle) Object(name string) auditstore.GCSObjectHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := &mockGCSWriter{closeErr: b.closeErr}
	b.objects[name] = w
	return &mockGCSObjectHandle{writer: w}
}

func (b *mockGCSBucketHandle) snapshot() map[string]*mockGCSWriter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]*mockGCSWriter, len(b.objects))
	for k, v := range b.objects {
		out[k] = v
	}
	return out
}

type mockGCSClient struct {
	bucket     *mockGCSBucketHandle
	bucketName string
}

func newMockGCSClient(closeErr error) *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{objects: map[string]*mockGCSWriter{}, closeErr: closeErr}}
}

func (c *mockGCSClient) Bucket(name string) auditstore.GCSBucketHandle {
	c.bucketName = name
	return c.bucket
}
