package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pacekit/syncd/internal/keystore"
	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/internal/telemetry"
	"github.com/pacekit/syncd/pkg/log"
)

const (
	queueKey       = "queue"
	haltedFlagKey  = "queue/halted"
	ownerIndexBase = "qowners/"
)

// ErrHalted is returned for every queue mutation after an encryption
// failure until the halt is cleared. The condition survives restarts.
var ErrHalted = errors.New("queue: persistence halted, restart required")

// Repository persists the queue as one encrypted blob per owner.
type Repository struct {
	ks     keystore.Store
	db     *pebblestore.DB
	bus    *telemetry.Bus
	logger log.Logger

	mu     sync.Mutex
	halted bool
}

// NewRepository builds a repository and restores a persisted halt flag.
func NewRepository(ks keystore.Store, db *pebblestore.DB, bus *telemetry.Bus, logger log.Logger) (*Repository, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	r := &Repository{ks: ks, db: db, bus: bus, logger: logger.WithComponent("queue")}

	halted, err := db.Has([]byte(haltedFlagKey))
	if err != nil {
		return nil, fmt.Errorf("read halt flag: %w", err)
	}
	r.halted = halted
	if halted {
		r.logger.Error("queue starts halted from a previous encryption failure")
	}
	return r, nil
}

// Halted reports whether the queue refuses mutation.
func (r *Repository) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// ClearHalt lifts the halt after operator intervention.
func (r *Repository) ClearHalt() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.db.Delete([]byte(haltedFlagKey)); err != nil {
		return fmt.Errorf("clear halt flag: %w", err)
	}
	r.halted = false
	r.logger.Info("queue halt cleared")
	return nil
}

func (r *Repository) halt(cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted = true
	if err := r.db.Set([]byte(haltedFlagKey), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		r.logger.Error("failed to persist halt flag", log.Err(err))
	}
	r.logger.Error("queue halted, no plaintext fallback", log.Err(cause))
	if r.bus != nil {
		r.bus.Publish(telemetry.Event{
			Kind:   telemetry.KindSecurityHalt,
			Fields: map[string]interface{}{"error": cause.Error()},
		})
	}
	return fmt.Errorf("%w: %v", ErrHalted, cause)
}

// Load returns the owner's queue. A legacy plaintext snapshot is re-saved
// encrypted before being returned.
func (r *Repository) Load(ownerID string) ([]Item, error) {
	if r.Halted() {
		return nil, ErrHalted
	}
	raw, encrypted, err := r.ks.Get(ownerID, queueKey)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if !encrypted {
		r.logger.Info("migrating legacy plaintext queue", log.Str("owner", ownerID))
		if err := r.Save(ownerID, items); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Save replaces the owner's queue snapshot. An encryption failure halts the
// repository; the plaintext is never written.
func (r *Repository) Save(ownerID string, items []Item) error {
	if r.Halted() {
		return ErrHalted
	}
	if len(items) == 0 {
		if err := r.ks.Remove(ownerID, queueKey); err != nil && !errors.Is(err, keystore.ErrNotFound) {
			return fmt.Errorf("save queue: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	if err := r.ks.Set(ownerID, queueKey, raw); err != nil {
		if errors.Is(err, keystore.ErrEncrypt) {
			return r.halt(err)
		}
		return fmt.Errorf("save queue: %w", err)
	}
	if err := r.db.Set([]byte(ownerIndexBase+ownerID), []byte{1}); err != nil {
		r.logger.Warn("owner index update failed", log.Err(err))
	}
	return nil
}

// Owners lists every owner that has ever persisted a queue.
func (r *Repository) Owners() ([]string, error) {
	kvs, err := r.db.ScanPrefix([]byte(ownerIndexBase), 0)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	out := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, string(kv.Key[len(ownerIndexBase):]))
	}
	return out, nil
}
