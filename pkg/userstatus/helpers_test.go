package userstatus_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-userstatus/pkg/catalog"
	"github.com/illmade-knight/go-userstatus/pkg/statusstore"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

type fixture struct {
	svc   *userstatus.Service
	store *countingStore
	clock *userstatus.FixedClock
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, userstatus.DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, cfg userstatus.Config) *fixture {
	t.Helper()
	store := &countingStore{Store: statusstore.NewInMemoryStore()}
	clock := userstatus.NewFixedClock(epoch)
	svc, err := userstatus.NewService(cfg, store, catalog.NewDefaultCatalog(), catalog.GlyphValidator{}, clock, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{svc: svc, store: store, clock: clock}
}

func (f *fixture) now() int64 {
	return f.clock.Now().Unix()
}

// raw reads a record straight from the store, bypassing normalization.
func (f *fixture) raw(t *testing.T, userID string, backup bool) (userstatus.Record, bool) {
	t.Helper()
	rec, ok, err := f.store.FindByUserID(context.Background(), userID, backup)
	require.NoError(t, err)
	return rec, ok
}

// put inserts rec directly into the store.
func (f *fixture) put(t *testing.T, rec userstatus.Record) userstatus.Record {
	t.Helper()
	saved, err := f.store.Insert(context.Background(), rec)
	require.NoError(t, err)
	return saved
}

// countingStore wraps a store and counts writes.
type countingStore struct {
	userstatus.Store
	writes int
}

func (s *countingStore) Insert(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	s.writes++
	return s.Store.Insert(ctx, rec)
}

func (s *countingStore) Update(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	s.writes++
	return s.Store.Update(ctx, rec)
}

func (s *countingStore) Delete(ctx context.Context, rec userstatus.Record) error {
	s.writes++
	return s.Store.Delete(ctx, rec)
}
