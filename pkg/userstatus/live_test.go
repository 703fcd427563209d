package userstatus_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateLiveStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a record for a new user", func(t *testing.T) {
		f := newFixture(t)
		applied, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusAway, 0)
		require.NoError(t, err)
		assert.True(t, applied)

		rec, ok := f.raw(t, "alice", false)
		require.True(t, ok)
		assert.Equal(t, userstatus.StatusAway, rec.Status)
		assert.False(t, rec.IsUserDefined)
	})

	t.Run("higher priority wins immediately", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusAway, 0)
		require.NoError(t, err)

		applied, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusOnline, 0)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("lower priority waits for the timeout", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusOnline, 0)
		require.NoError(t, err)

		applied, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusAway, 0)
		require.NoError(t, err)
		assert.False(t, applied)

		f.clock.Advance(userstatus.LiveStatusTimeout + time.Second)
		applied, err = f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusAway, 0)
		require.NoError(t, err)
		assert.True(t, applied)

		rec, _ := f.raw(t, "alice", false)
		assert.Equal(t, userstatus.StatusAway, rec.Status)
		assert.Equal(t, f.now(), rec.StatusTimestamp)
	})

	t.Run("user-defined persistent status is kept", func(t *testing.T) {
		for _, status := range userstatus.PersistentStatuses {
			t.Run(string(status), func(t *testing.T) {
				f := newFixture(t)
				_, err := f.svc.SetStatus(ctx, "alice", status, 0, true)
				require.NoError(t, err)
				f.clock.Advance(time.Hour)

				applied, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusOnline, 0)
				require.NoError(t, err)
				assert.False(t, applied)

				rec, _ := f.raw(t, "alice", false)
				assert.Equal(t, status, rec.Status)
			})
		}
	})

	t.Run("user-defined online yields to automation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SetStatus(ctx, "alice", userstatus.StatusOnline, 0, true)
		require.NoError(t, err)
		f.clock.Advance(userstatus.LiveStatusTimeout + time.Second)

		applied, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.StatusAway, 0)
		require.NoError(t, err)
		assert.True(t, applied)

		rec, _ := f.raw(t, "alice", false)
		assert.False(t, rec.IsUserDefined)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateLiveStatus(ctx, "alice", userstatus.Status("busy"), 0)
		require.ErrorIs(t, err, userstatus.ErrInvalidStatusType)
	})
}

func TestStatusOrdering(t *testing.T) {
	assert.Equal(t, 0, userstatus.StatusOnline.Priority())
	assert.Equal(t, 4, userstatus.StatusOffline.Priority())
	assert.Equal(t, -1, userstatus.Status("busy").Priority())
	assert.True(t, userstatus.StatusDND.IsPersistent())
	assert.False(t, userstatus.StatusOnline.IsPersistent())
	assert.False(t, userstatus.StatusOffline.IsPersistent())
}
