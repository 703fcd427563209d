package statusstore_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-userstatus/pkg/statusstore"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every StatusStore must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) statusstore.StatusStore) {
	ctx := context.Background()

	t.Run("insert assigns identity and find returns it", func(t *testing.T) {
		store := newStore(t)
		rec := userstatus.NewRecord("alice").WithStatus(userstatus.StatusDND, 1000, true)

		saved, err := store.Insert(ctx, rec)
		require.NoError(t, err)
		assert.NotZero(t, saved.ID)

		found, ok, err := store.FindByUserID(ctx, "alice", false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, saved, found)

		_, ok, err = store.FindByUserID(ctx, "alice", true)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing user is reported as not found", func(t *testing.T) {
		store := newStore(t)
		_, ok, err := store.FindByUserID(ctx, "nobody", false)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("second insert for the same key fails", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Insert(ctx, userstatus.NewRecord("bob"))
		require.NoError(t, err)

		_, err = store.Insert(ctx, userstatus.NewRecord("bob"))
		require.ErrorIs(t, err, statusstore.ErrDuplicateKey)
	})

	t.Run("live and backup records share a user", func(t *testing.T) {
		store := newStore(t)
		live, err := store.Insert(ctx, userstatus.NewRecord("carol"))
		require.NoError(t, err)
		backup, err := store.Insert(ctx, userstatus.NewRecord("carol").AsBackup())
		require.NoError(t, err)
		assert.NotEqual(t, live.ID, backup.ID)

		found, ok, err := store.FindByUserID(ctx, "carol", true)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, found.IsBackup)
	})

	t.Run("update moves a record into the backup key", func(t *testing.T) {
		store := newStore(t)
		live, err := store.Insert(ctx, userstatus.NewRecord("dave").WithStatus(userstatus.StatusAway, 50, true))
		require.NoError(t, err)

		_, err = store.Update(ctx, live.AsBackup())
		require.NoError(t, err)

		_, ok, err := store.FindByUserID(ctx, "dave", false)
		require.NoError(t, err)
		assert.False(t, ok)

		backup, ok, err := store.FindByUserID(ctx, "dave", true)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, live.ID, backup.ID)
		assert.Equal(t, userstatus.StatusAway, backup.Status)
	})

	t.Run("update into an occupied key fails", func(t *testing.T) {
		store := newStore(t)
		live, err := store.Insert(ctx, userstatus.NewRecord("erin"))
		require.NoError(t, err)
		_, err = store.Insert(ctx, userstatus.NewRecord("erin").AsBackup())
		require.NoError(t, err)

		_, err = store.Update(ctx, live.AsBackup())
		require.ErrorIs(t, err, statusstore.ErrDuplicateKey)
	})

	t.Run("update and delete of unknown records fail", func(t *testing.T) {
		store := newStore(t)
		ghost := userstatus.NewRecord("ghost")
		ghost.ID = 9999

		_, err := store.Update(ctx, ghost)
		require.ErrorIs(t, err, statusstore.ErrNoSuchRecord)
		err = store.Delete(ctx, ghost)
		require.ErrorIs(t, err, statusstore.ErrNoSuchRecord)
	})

	t.Run("update persists every field", func(t *testing.T) {
		store := newStore(t)
		rec, err := store.Insert(ctx, userstatus.NewRecord("frank").WithCustomMessage("🌴", "away", 5000))
		require.NoError(t, err)

		rec = rec.WithStatus(userstatus.StatusOnline, 77, false).WithPredefinedMessage("meeting", 0)
		_, err = store.Update(ctx, rec)
		require.NoError(t, err)

		found, ok, err := store.FindByUserID(ctx, "frank", false)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec, found)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		store := newStore(t)
		rec, err := store.Insert(ctx, userstatus.NewRecord("gina"))
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, rec))
		_, ok, err := store.FindByUserID(ctx, "gina", false)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Insert(ctx, userstatus.NewRecord("gina"))
		require.NoError(t, err, "the key is free again after delete")
	})

	t.Run("listings exclude backups and honour ordering and paging", func(t *testing.T) {
		store := newStore(t)
		a, err := store.Insert(ctx, userstatus.NewRecord("a").WithStatus(userstatus.StatusOnline, 300, false))
		require.NoError(t, err)
		b, err := store.Insert(ctx, userstatus.NewRecord("b").WithStatus(userstatus.StatusOnline, 100, false))
		require.NoError(t, err)
		c, err := store.Insert(ctx, userstatus.NewRecord("c").WithStatus(userstatus.StatusOnline, 200, false))
		require.NoError(t, err)
		_, err = store.Insert(ctx, userstatus.NewRecord("a").WithStatus(userstatus.StatusDND, 999, true).AsBackup())
		require.NoError(t, err)

		all, err := store.FindAll(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, b.ID, c.ID}, ids(all))

		recent, err := store.FindAllRecent(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, c.ID, b.ID}, ids(recent))

		paged, err := store.FindAll(ctx, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, ids(paged))

		pagedRecent, err := store.FindAllRecent(ctx, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{c.ID, b.ID}, ids(pagedRecent))

		beyond, err := store.FindAll(ctx, 10, 10)
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})

	t.Run("recency index follows updates", func(t *testing.T) {
		store := newStore(t)
		a, err := store.Insert(ctx, userstatus.NewRecord("a").WithStatus(userstatus.StatusOnline, 100, false))
		require.NoError(t, err)
		b, err := store.Insert(ctx, userstatus.NewRecord("b").WithStatus(userstatus.StatusOnline, 200, false))
		require.NoError(t, err)

		_, err = store.Update(ctx, a.WithStatus(userstatus.StatusAway, 300, false))
		require.NoError(t, err)

		recent, err := store.FindAllRecent(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, b.ID}, ids(recent))

		_, err = store.Update(ctx, b.AsBackup())
		require.NoError(t, err)
		recent, err = store.FindAllRecent(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, ids(recent))
	})

	t.Run("find by user ids returns live records only", func(t *testing.T) {
		store := newStore(t)
		x, err := store.Insert(ctx, userstatus.NewRecord("x"))
		require.NoError(t, err)
		_, err = store.Insert(ctx, userstatus.NewRecord("y").AsBackup())
		require.NoError(t, err)
		z, err := store.Insert(ctx, userstatus.NewRecord("z"))
		require.NoError(t, err)

		found, err := store.FindByUserIDs(ctx, []string{"z", "y", "x", "missing", "x"})
		require.NoError(t, err)
		assert.Equal(t, []int64{x.ID, z.ID}, ids(found))
	})

	t.Run("ping succeeds", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Ping(ctx))
	})
}

func ids(records []userstatus.Record) []int64 {
	out := make([]int64, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
