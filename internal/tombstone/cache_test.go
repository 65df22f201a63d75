package tombstone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacekit/syncd/internal/keystore"
	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/pkg/log"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ks, err := keystore.NewAES(db, []byte("test-secret"))
	require.NoError(t, err)
	return NewCache(ks, ttl, log.NewNop())
}

func TestMarkAndLookup(t *testing.T) {
	c := newTestCache(t, 0)

	require.NoError(t, c.MarkDeleted("u1", "evt-1", "user delete"))

	deleted, err := c.IsRecentlyDeleted("u1", "evt-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.IsRecentlyDeleted("u1", "evt-2")
	require.NoError(t, err)
	assert.False(t, deleted)

	// Other owners never see the tombstone.
	deleted, err = c.IsRecentlyDeleted("u2", "evt-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestExpiryEvictsLazily(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.MarkDeleted("u1", "evt-1", "user delete"))

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	deleted, err := c.IsRecentlyDeleted("u1", "evt-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	// The expired record is gone, not merely hidden.
	ids, err := c.RecentlyDeletedIDs("u1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRecentlyDeletedIDs(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.MarkDeleted("u1", "evt-1", "user delete"))

	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, c.MarkDeleted("u1", "evt-2", "user delete"))

	c.now = func() time.Time { return base.Add(90 * time.Minute) }
	ids, err := c.RecentlyDeletedIDs("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-2"}, ids)
}

func TestLiveAtExpiryInstant(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.MarkDeleted("u1", "evt-1", "user delete"))

	c.now = func() time.Time { return base.Add(time.Hour) }
	deleted, err := c.IsRecentlyDeleted("u1", "evt-1")
	require.NoError(t, err)
	assert.True(t, deleted, "record is live at the exact expiry instant")

	c.now = func() time.Time { return base.Add(time.Hour + time.Nanosecond) }
	deleted, err = c.IsRecentlyDeleted("u1", "evt-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSweep(t *testing.T) {
	c := newTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.MarkDeleted("u1", "evt-1", "user delete"))
	require.NoError(t, c.MarkDeleted("u1", "evt-2", "user delete"))

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	removed, err := c.Sweep("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = c.Sweep("u1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRecordsPersistAcrossInstances(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ks, err := keystore.NewAES(db, []byte("test-secret"))
	require.NoError(t, err)

	c1 := NewCache(ks, time.Hour, log.NewNop())
	require.NoError(t, c1.MarkDeleted("u1", "evt-1", "user delete"))

	c2 := NewCache(ks, time.Hour, log.NewNop())
	deleted, err := c2.IsRecentlyDeleted("u1", "evt-1")
	require.NoError(t, err)
	assert.True(t, deleted)
}
