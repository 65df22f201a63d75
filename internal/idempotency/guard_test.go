package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacekit/syncd/internal/entity"
	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/pkg/log"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewGuard(db, log.NewNop())
}

func sampleEvent() *entity.TrackedEvent {
	return &entity.TrackedEvent{
		OwnerID:    "u1",
		Kind:       "run",
		Score:      7,
		RecordedAt: 1700000000000,
	}
}

func TestStructurallyDifferentDuplicatesCollapse(t *testing.T) {
	g := newTestGuard(t)

	first := sampleEvent()
	res, err := g.Check("UPDATE", first)
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.True(t, res.ShouldEnqueue)
	require.NoError(t, g.MarkQueued("u1", res.Key, entity.TypeTrackedEvent))

	// Same logical mutation, noisier representation.
	second := sampleEvent()
	second.Kind = "  Run "
	second.Score = 7.0000001
	second.RecordedAt = 1700000000417

	res2, err := g.Check("UPDATE", second)
	require.NoError(t, err)
	assert.Equal(t, res.Key, res2.Key)
	assert.True(t, res2.IsDuplicate)
	assert.False(t, res2.ShouldEnqueue)
}

func TestDifferentOperationsAreDistinct(t *testing.T) {
	g := newTestGuard(t)

	res, err := g.Check("UPDATE", sampleEvent())
	require.NoError(t, err)
	require.NoError(t, g.MarkQueued("u1", res.Key, entity.TypeTrackedEvent))

	res2, err := g.Check("DELETE", sampleEvent())
	require.NoError(t, err)
	assert.NotEqual(t, res.Key, res2.Key)
	assert.False(t, res2.IsDuplicate)
}

func TestWindowExpiryAllowsLaterUpdate(t *testing.T) {
	g := newTestGuard(t)

	base := time.Now()
	g.now = func() time.Time { return base }

	p := &entity.Profile{OwnerID: "u1", DisplayName: "Ada", WeeklyGoal: 5}
	res, err := g.Check("UPDATE", p)
	require.NoError(t, err)
	require.NoError(t, g.MarkQueued("u1", res.Key, entity.TypeProfile))

	// Inside the 5 minute profile window: duplicate.
	g.now = func() time.Time { return base.Add(time.Minute) }
	res2, err := g.Check("UPDATE", p)
	require.NoError(t, err)
	assert.True(t, res2.IsDuplicate)

	// Past the window: the same save is legitimate again.
	g.now = func() time.Time { return base.Add(10 * time.Minute) }
	res3, err := g.Check("UPDATE", p)
	require.NoError(t, err)
	assert.False(t, res3.IsDuplicate)
	assert.True(t, res3.ShouldEnqueue)
}

func TestCreateOnceNeverExpires(t *testing.T) {
	g := newTestGuard(t)

	base := time.Now()
	g.now = func() time.Time { return base }

	a := &entity.Achievement{OwnerID: "u1", Code: "first-week", Progress: 100}
	res, err := g.Check("CREATE", a)
	require.NoError(t, err)
	require.NoError(t, g.MarkProcessed("u1", res.Key, entity.TypeAchievement))

	g.now = func() time.Time { return base.Add(365 * 24 * time.Hour) }
	res2, err := g.Check("CREATE", a)
	require.NoError(t, err)
	assert.True(t, res2.IsDuplicate)
}

func TestFailedRecordAllowsRetry(t *testing.T) {
	g := newTestGuard(t)

	res, err := g.Check("CREATE", sampleEvent())
	require.NoError(t, err)
	require.NoError(t, g.MarkFailed("u1", res.Key, entity.TypeTrackedEvent))

	res2, err := g.Check("CREATE", sampleEvent())
	require.NoError(t, err)
	assert.False(t, res2.IsDuplicate)
	assert.True(t, res2.ShouldEnqueue)
}

func TestSweepRemovesExpired(t *testing.T) {
	g := newTestGuard(t)

	base := time.Now()
	g.now = func() time.Time { return base }

	res, err := g.Check("UPDATE", sampleEvent())
	require.NoError(t, err)
	require.NoError(t, g.MarkQueued("u1", res.Key, entity.TypeTrackedEvent))

	a := &entity.Achievement{OwnerID: "u1", Code: "streak-7"}
	resA, err := g.Check("CREATE", a)
	require.NoError(t, err)
	require.NoError(t, g.MarkProcessed("u1", resA.Key, entity.TypeAchievement))

	g.now = func() time.Time { return base.Add(2 * time.Hour) }
	removed, err := g.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// The create-once record survives the sweep.
	res2, err := g.Check("CREATE", a)
	require.NoError(t, err)
	assert.True(t, res2.IsDuplicate)
}
