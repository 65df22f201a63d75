package queue

import (
	"context"
	"errors"
	"fmt"

	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
)

const (
	mapLocalPrefix  = "map/l/"
	mapRemotePrefix = "map/r/"
)

// IDMap records the correspondence between locally generated item entity
// IDs and the IDs the remote store assigned, lookable from either side.
type IDMap struct {
	db *pebblestore.DB
}

// NewIDMap builds a mapping store over db.
func NewIDMap(db *pebblestore.DB) *IDMap { return &IDMap{db: db} }

// Put records local <-> remote in both directions.
func (m *IDMap) Put(localID, remoteID string) error {
	if localID == "" || remoteID == "" {
		return fmt.Errorf("idmap: empty id")
	}
	b := m.db.NewBatch()
	if err := b.Set([]byte(mapLocalPrefix+localID), []byte(remoteID), nil); err != nil {
		return fmt.Errorf("idmap put: %w", err)
	}
	if err := b.Set([]byte(mapRemotePrefix+remoteID), []byte(localID), nil); err != nil {
		return fmt.Errorf("idmap put: %w", err)
	}
	if err := m.db.CommitBatch(context.Background(), b); err != nil {
		return fmt.Errorf("idmap put: %w", err)
	}
	return nil
}

// RemoteFor returns the remote ID mapped to a local ID.
func (m *IDMap) RemoteFor(localID string) (string, bool, error) {
	return m.lookup(mapLocalPrefix + localID)
}

// LocalFor returns the local ID mapped to a remote ID.
func (m *IDMap) LocalFor(remoteID string) (string, bool, error) {
	return m.lookup(mapRemotePrefix + remoteID)
}

func (m *IDMap) lookup(key string) (string, bool, error) {
	v, err := m.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("idmap lookup: %w", err)
	}
	return string(v), true, nil
}

// Delete removes the pair anchored at localID.
func (m *IDMap) Delete(localID string) error {
	remoteID, ok, err := m.RemoteFor(localID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	b := m.db.NewBatch()
	if err := b.Delete([]byte(mapLocalPrefix+localID), nil); err != nil {
		return fmt.Errorf("idmap delete: %w", err)
	}
	if err := b.Delete([]byte(mapRemotePrefix+remoteID), nil); err != nil {
		return fmt.Errorf("idmap delete: %w", err)
	}
	if err := m.db.CommitBatch(context.Background(), b); err != nil {
		return fmt.Errorf("idmap delete: %w", err)
	}
	return nil
}
