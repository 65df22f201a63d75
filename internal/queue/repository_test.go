package queue

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacekit/syncd/internal/keystore"
	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/internal/telemetry"
	"github.com/pacekit/syncd/pkg/log"
)

// failingKeystore injects encryption failures into Set.
type failingKeystore struct {
	keystore.Store
	failSet bool
}

func (f *failingKeystore) Set(owner, key string, value []byte) error {
	if f.failSet {
		return fmt.Errorf("%w: injected", keystore.ErrEncrypt)
	}
	return f.Store.Set(owner, key, value)
}

func newTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRepo(t *testing.T) (*Repository, *pebblestore.DB, keystore.Store) {
	t.Helper()
	db := newTestDB(t)
	ks, err := keystore.NewAES(db, []byte("test-secret"))
	require.NoError(t, err)
	repo, err := NewRepository(ks, db, nil, log.NewNop())
	require.NoError(t, err)
	return repo, db, ks
}

func TestSaveLoadRoundTrip(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	items := []Item{
		eventItem("u1", OpCreate, time.Now().UTC().Truncate(time.Millisecond)),
		eventItem("u1", OpDelete, time.Now().UTC().Truncate(time.Millisecond)),
	}
	require.NoError(t, repo.Save("u1", items))

	got, err := repo.Load("u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, items[0].ID, got[0].ID)
	assert.Equal(t, items[1].Operation, got[1].Operation)

	owners, err := repo.Owners()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, owners)
}

func TestLoadUnknownOwnerIsEmpty(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	got, err := repo.Load("nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveEmptyRemovesSnapshot(t *testing.T) {
	repo, _, ks := newTestRepo(t)

	require.NoError(t, repo.Save("u1", []Item{eventItem("u1", OpCreate, time.Now())}))
	require.NoError(t, repo.Save("u1", nil))

	_, _, err := ks.Get("u1", queueKey)
	assert.ErrorIs(t, err, keystore.ErrNotFound)
}

func TestLegacyPlaintextMigratedOnLoad(t *testing.T) {
	repo, _, ks := newTestRepo(t)

	legacy := []Item{eventItem("u1", OpCreate, time.Now().UTC().Truncate(time.Millisecond))}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	// Plant a pre-encryption snapshot straight into the store.
	require.NoError(t, repo.db.Set([]byte("ks/u1/"+queueKey), raw))

	got, err := repo.Load("u1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	// The snapshot is now stored encrypted.
	_, encrypted, err := ks.Get("u1", queueKey)
	require.NoError(t, err)
	assert.True(t, encrypted)
}

func TestEncryptionFailureHaltsQueue(t *testing.T) {
	db := newTestDB(t)
	real, err := keystore.NewAES(db, []byte("test-secret"))
	require.NoError(t, err)
	fk := &failingKeystore{Store: real}

	bus := telemetry.NewBus()
	defer bus.Close()
	events, cancel := bus.Subscribe(4)
	defer cancel()

	repo, err := NewRepository(fk, db, bus, log.NewNop())
	require.NoError(t, err)

	fk.failSet = true
	err = repo.Save("u1", []Item{eventItem("u1", OpCreate, time.Now())})
	require.ErrorIs(t, err, ErrHalted)

	// Every further mutation is refused, even after the fault clears.
	fk.failSet = false
	assert.ErrorIs(t, repo.Save("u1", nil), ErrHalted)
	_, err = repo.Load("u1")
	assert.ErrorIs(t, err, ErrHalted)

	select {
	case e := <-events:
		assert.Equal(t, telemetry.KindSecurityHalt, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("no security-halt event published")
	}

	// The halt survives a restart.
	repo2, err := NewRepository(real, db, nil, log.NewNop())
	require.NoError(t, err)
	assert.True(t, repo2.Halted())

	// Until an operator clears it.
	require.NoError(t, repo2.ClearHalt())
	assert.False(t, repo2.Halted())
	require.NoError(t, repo2.Save("u1", []Item{eventItem("u1", OpCreate, time.Now())}))
}
