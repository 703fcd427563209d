package statusstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore status store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreConfigDefaults returns the default collection layout.
func FirestoreConfigDefaults() *FirestoreConfig {
	return &FirestoreConfig{CollectionName: "user_status"}
}

// statusDocument is the stored shape of a record. The document ID is the
// escaped storage key, which makes Create the uniqueness check.
type statusDocument struct {
	ID              int64  `firestore:"id"`
	UserID          string `firestore:"userId"`
	Status          string `firestore:"status"`
	StatusTimestamp int64  `firestore:"statusTimestamp"`
	IsUserDefined   bool   `firestore:"isUserDefined"`
	IsBackup        bool   `firestore:"isBackup"`
	MessageID       string `firestore:"messageId"`
	CustomIcon      string `firestore:"customIcon"`
	CustomMessage   string `firestore:"customMessage"`
	ClearAt         int64  `firestore:"clearAt"`
}

func documentFromRecord(rec userstatus.Record) statusDocument {
	return statusDocument{
		ID:              rec.ID,
		UserID:          rec.UserID,
		Status:          string(rec.Status),
		StatusTimestamp: rec.StatusTimestamp,
		IsUserDefined:   rec.IsUserDefined,
		IsBackup:        rec.IsBackup,
		MessageID:       rec.MessageID,
		CustomIcon:      rec.CustomIcon,
		CustomMessage:   rec.CustomMessage,
		ClearAt:         rec.ClearAt,
	}
}

func (d statusDocument) record() userstatus.Record {
	return userstatus.Record{
		ID:              d.ID,
		UserID:          d.UserID,
		Status:          userstatus.Status(d.Status),
		StatusTimestamp: d.StatusTimestamp,
		IsUserDefined:   d.IsUserDefined,
		IsBackup:        d.IsBackup,
		MessageID:       d.MessageID,
		CustomIcon:      d.CustomIcon,
		CustomMessage:   d.CustomMessage,
		ClearAt:         d.ClearAt,
	}
}

type sequenceDocument struct {
	Next int64 `firestore:"next"`
}

// FirestoreStore is a StatusStore on a Firestore collection.
// Listing queries filter on isBackup and order on another field, which needs
// composite indexes outside the emulator.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreStore creates a new FirestoreStore. The client's lifecycle is managed externally.
func NewFirestoreStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = "user_status"
	}
	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", collection).Msg("FirestoreStore initialized.")
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) doc(storageKey string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(url.PathEscape(storageKey))
}

func (s *FirestoreStore) sequence() *firestore.DocumentRef {
	return s.client.Collection(s.collection + "_meta").Doc("sequence")
}

// FindByUserID returns the live or backup record of userID.
func (s *FirestoreStore) FindByUserID(ctx context.Context, userID string, backup bool) (userstatus.Record, bool, error) {
	snap, err := s.doc(userstatus.StorageKey(userID, backup)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return userstatus.Record{}, false, nil
	}
	if err != nil {
		return userstatus.Record{}, false, fmt.Errorf("firestore get for %s: %w", userID, err)
	}
	var d statusDocument
	if err := snap.DataTo(&d); err != nil {
		return userstatus.Record{}, false, fmt.Errorf("firestore DataTo for %s: %w", userID, err)
	}
	return d.record(), true, nil
}

// FindByUserIDs returns the live records of the given users, ordered by ID.
func (s *FirestoreStore) FindByUserIDs(ctx context.Context, userIDs []string) ([]userstatus.Record, error) {
	refs := make([]*firestore.DocumentRef, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if userstatus.IsReservedUserID(id) || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, s.doc(id))
	}
	if len(refs) == 0 {
		return []userstatus.Record{}, nil
	}
	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("firestore get all: %w", err)
	}
	recs := make([]userstatus.Record, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var d statusDocument
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore DataTo for %s: %w", snap.Ref.ID, err)
		}
		recs = append(recs, d.record())
	}
	sortByID(recs)
	return recs, nil
}

// FindAll returns live records ordered by ID.
func (s *FirestoreStore) FindAll(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	q := s.client.Collection(s.collection).Where("isBackup", "==", false).OrderBy("id", firestore.Asc)
	return s.list(ctx, q, limit, offset)
}

// FindAllRecent returns live records ordered by most recent status change.
func (s *FirestoreStore) FindAllRecent(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	q := s.client.Collection(s.collection).
		Where("isBackup", "==", false).
		OrderBy("statusTimestamp", firestore.Desc).
		OrderBy("id", firestore.Asc)
	return s.list(ctx, q, limit, offset)
}

func (s *FirestoreStore) list(ctx context.Context, q firestore.Query, limit, offset int) ([]userstatus.Record, error) {
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	recs := []userstatus.Record{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore list statuses: %w", err)
		}
		var d statusDocument
		if err := snap.DataTo(&d); err != nil {
			return nil, fmt.Errorf("firestore DataTo for %s: %w", snap.Ref.ID, err)
		}
		recs = append(recs, d.record())
	}
	return recs, nil
}

// Insert assigns rec an ID from the sequence document and creates its document.
func (s *FirestoreStore) Insert(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	key := rec.Key()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var seq sequenceDocument
		snap, err := tx.Get(s.sequence())
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&seq); err != nil {
				return err
			}
		}
		seq.Next++
		rec.ID = seq.Next

		if err := tx.Set(s.sequence(), seq); err != nil {
			return err
		}
		return tx.Create(s.doc(key), documentFromRecord(rec))
	})
	if status.Code(err) == codes.AlreadyExists {
		return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	if err != nil {
		return userstatus.Record{}, fmt.Errorf("firestore insert for %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("id", rec.ID).Msg("Inserted status document.")
	return rec, nil
}

// Update replaces the document holding rec.ID, moving it when the storage key changes.
func (s *FirestoreStore) Update(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	newKey := rec.Key()
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := s.findByID(tx, rec.ID)
		if err != nil {
			return err
		}
		newRef := s.doc(newKey)
		if current.ID == newRef.ID {
			return tx.Set(newRef, documentFromRecord(rec))
		}
		if _, err := tx.Get(newRef); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, newKey)
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if err := tx.Delete(current); err != nil {
			return err
		}
		return tx.Create(newRef, documentFromRecord(rec))
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNoSuchRecord) {
			return userstatus.Record{}, err
		}
		if status.Code(err) == codes.AlreadyExists {
			return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, newKey)
		}
		return userstatus.Record{}, fmt.Errorf("firestore update for %s: %w", newKey, err)
	}
	return rec, nil
}

// Delete removes the document holding rec.ID.
func (s *FirestoreStore) Delete(ctx context.Context, rec userstatus.Record) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.findByID(tx, rec.ID)
		if err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if err != nil {
		if errors.Is(err, ErrNoSuchRecord) {
			return err
		}
		return fmt.Errorf("firestore delete for %s: %w", rec.UserID, err)
	}
	return nil
}

func (s *FirestoreStore) findByID(tx *firestore.Transaction, id int64) (*firestore.DocumentRef, error) {
	q := s.client.Collection(s.collection).Where("id", "==", id).Limit(1)
	snaps, err := tx.Documents(q).GetAll()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNoSuchRecord, id)
	}
	return snaps[0].Ref, nil
}

// Ping reads at most one document from the collection.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	iter := s.client.Collection(s.collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error {
	return nil
}
