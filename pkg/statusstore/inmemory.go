package statusstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
)

// InMemoryStore is a thread-safe StatusStore backed by maps.
// It is intended for tests and local development.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[int64]userstatus.Record
	byKey  map[string]int64
	nextID int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[int64]userstatus.Record),
		byKey: make(map[string]int64),
	}
}

// FindByUserID returns the live or backup record of userID.
func (s *InMemoryStore) FindByUserID(ctx context.Context, userID string, backup bool) (userstatus.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[userstatus.StorageKey(userID, backup)]
	if !ok {
		return userstatus.Record{}, false, nil
	}
	return s.byID[id], true, nil
}

// FindByUserIDs returns the live records of the given users, ordered by ID.
func (s *InMemoryStore) FindByUserIDs(ctx context.Context, userIDs []string) ([]userstatus.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]userstatus.Record, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if id, ok := s.byKey[userstatus.StorageKey(userID, false)]; ok {
			records = append(records, s.byID[id])
		}
	}
	sortByID(records)
	return records, nil
}

// FindAll returns live records ordered by ID.
func (s *InMemoryStore) FindAll(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	records := s.live()
	sortByID(records)
	return page(records, limit, offset), nil
}

// FindAllRecent returns live records ordered by most recent status change.
func (s *InMemoryStore) FindAllRecent(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	records := s.live()
	sortByRecency(records)
	return page(records, limit, offset), nil
}

func (s *InMemoryStore) live() []userstatus.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]userstatus.Record, 0, len(s.byID))
	for _, rec := range s.byID {
		if !rec.IsBackup {
			records = append(records, rec)
		}
	}
	return records
}

// Insert assigns rec an ID and stores it.
func (s *InMemoryStore) Insert(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	if _, exists := s.byKey[key]; exists {
		return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	s.nextID++
	rec.ID = s.nextID
	s.byID[rec.ID] = rec
	s.byKey[key] = rec.ID
	return rec, nil
}

// Update replaces the record with rec.ID, moving it to a new key if needed.
func (s *InMemoryStore) Update(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[rec.ID]
	if !ok {
		return userstatus.Record{}, fmt.Errorf("%w: id %d", ErrNoSuchRecord, rec.ID)
	}
	oldKey, newKey := old.Key(), rec.Key()
	if oldKey != newKey {
		if _, exists := s.byKey[newKey]; exists {
			return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, newKey)
		}
		delete(s.byKey, oldKey)
		s.byKey[newKey] = rec.ID
	}
	s.byID[rec.ID] = rec
	return rec, nil
}

// Delete removes the record with rec.ID.
func (s *InMemoryStore) Delete(ctx context.Context, rec userstatus.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[rec.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNoSuchRecord, rec.ID)
	}
	delete(s.byKey, old.Key())
	delete(s.byID, rec.ID)
	return nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
