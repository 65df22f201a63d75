package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pacekit/syncd/internal/entity"
	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/pkg/log"
)

// State tracks where a deduplicated mutation is in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateProcessed State = "processed"
	StateFailed    State = "failed"
)

// record is the persisted form of one idempotency entry.
type record struct {
	Key       string    `json:"key"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	// ExpiresAt is zero for create-once entity types.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func (r record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Result is the outcome of a duplicate check.
type Result struct {
	// IsDuplicate means the same logical mutation is already queued or was
	// already applied within its window.
	IsDuplicate bool
	// ShouldEnqueue means the caller should append the mutation to the queue
	// and mark the key queued.
	ShouldEnqueue bool
	// Key identifies the mutation for later Mark calls.
	Key string
}

// windowFor returns the dedup window for an entity type. Zero means
// create-once: the record never expires.
func windowFor(t entity.Type) time.Duration {
	switch t {
	case entity.TypeProfile:
		// Profiles are legitimately re-saved; only collapse rapid repeats.
		return 5 * time.Minute
	case entity.TypeTrackedEvent:
		return time.Hour
	case entity.TypeAchievement, entity.TypeVoiceNote:
		return 0
	default:
		return time.Hour
	}
}

// Guard is the idempotency checker backed by Pebble.
type Guard struct {
	db     *pebblestore.DB
	logger log.Logger
	now    func() time.Time
}

// NewGuard builds a guard over db.
func NewGuard(db *pebblestore.DB, logger log.Logger) *Guard {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Guard{db: db, logger: logger.WithComponent("idempotency"), now: time.Now}
}

// KeyFor derives the idempotency key for a mutation: a SHA-256 digest of the
// operation, entity type, owner, and the canonical JSON of the normalized
// payload.
func KeyFor(operation string, p entity.Payload) (string, error) {
	norm := p.Normalize()
	canonical, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("normalize payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write([]byte(p.EntityType()))
	h.Write([]byte{0})
	h.Write([]byte(p.Owner()))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func recordKey(owner, key string) []byte {
	return []byte("idem/" + owner + "/" + key)
}

// Check classifies a candidate mutation. A live queued or processed record
// makes it a duplicate; a failed or expired record lets it through. When the
// guard's own storage fails, the mutation is allowed through: dropping user
// data is worse than a rare double send.
func (g *Guard) Check(operation string, p entity.Payload) (Result, error) {
	key, err := KeyFor(operation, p)
	if err != nil {
		return Result{ShouldEnqueue: true}, err
	}
	res := Result{Key: key, ShouldEnqueue: true}

	raw, err := g.db.Get(recordKey(p.Owner(), key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return res, nil
		}
		g.logger.Warn("duplicate check failed, allowing through", log.Err(err))
		return res, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		g.logger.Warn("corrupt idempotency record, allowing through", log.Err(err))
		return res, nil
	}

	now := g.now()
	if rec.expired(now) {
		_ = g.db.Delete(recordKey(p.Owner(), key))
		return res, nil
	}

	switch rec.State {
	case StateQueued, StateProcessed:
		res.IsDuplicate = true
		res.ShouldEnqueue = false
	case StateFailed:
		// A failed attempt does not block a retry of the same mutation.
	}
	return res, nil
}

func (g *Guard) mark(ownerID, key string, state State, entityType entity.Type) error {
	now := g.now()
	rec := record{Key: key, State: state, CreatedAt: now}
	if w := windowFor(entityType); w > 0 {
		rec.ExpiresAt = now.Add(w)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mark %s: %w", state, err)
	}
	return g.db.Set(recordKey(ownerID, key), raw)
}

// MarkQueued records that the mutation was appended to the queue.
func (g *Guard) MarkQueued(ownerID, key string, entityType entity.Type) error {
	return g.mark(ownerID, key, StateQueued, entityType)
}

// MarkProcessed records that the mutation was applied remotely.
func (g *Guard) MarkProcessed(ownerID, key string, entityType entity.Type) error {
	return g.mark(ownerID, key, StateProcessed, entityType)
}

// MarkFailed records a terminal failure so a re-submission is allowed.
func (g *Guard) MarkFailed(ownerID, key string, entityType entity.Type) error {
	return g.mark(ownerID, key, StateFailed, entityType)
}

// Sweep removes expired records and returns how many were dropped. The
// maintenance loop calls this periodically.
func (g *Guard) Sweep() (int, error) {
	kvs, err := g.db.ScanPrefix([]byte("idem/"), 0)
	if err != nil {
		return 0, err
	}
	now := g.now()
	removed := 0
	for _, kv := range kvs {
		var rec record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			// Corrupt entries are dropped rather than kept forever.
			if derr := g.db.Delete(kv.Key); derr == nil {
				removed++
			}
			continue
		}
		if rec.expired(now) {
			if derr := g.db.Delete(kv.Key); derr == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		g.logger.Debug("idempotency records swept", log.Int("removed", removed))
	}
	return removed, nil
}
