// Package statusstore provides keyed persistence for user status records.
// Every implementation enforces a unique storage key per record, where backup
// records live under the sentinel-prefixed key of their user.
package statusstore

import (
	"context"
	"errors"
	"sort"

	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
)

var (
	// ErrDuplicateKey is returned when a write would give two records the same storage key.
	ErrDuplicateKey = errors.New("duplicate status key")
	// ErrNoSuchRecord is returned when updating or deleting a record the store does not hold.
	ErrNoSuchRecord = errors.New("no such status record")
)

// StatusStore is a userstatus.Store that can also be health-checked and closed.
type StatusStore interface {
	userstatus.Store
	Ping(ctx context.Context) error
	Close() error
}

// sortByID orders records by ascending identity.
func sortByID(records []userstatus.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

// sortByRecency orders records by most recent status change, newest first.
func sortByRecency(records []userstatus.Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].StatusTimestamp != records[j].StatusTimestamp {
			return records[i].StatusTimestamp > records[j].StatusTimestamp
		}
		return records[i].ID < records[j].ID
	})
}

// page applies offset and limit to records. A zero limit means no limit.
func page(records []userstatus.Record, limit, offset int) []userstatus.Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []userstatus.Record{}
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
