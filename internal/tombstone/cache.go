package tombstone

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pacekit/syncd/internal/keystore"
	"github.com/pacekit/syncd/pkg/log"
)

const storeKey = "tombstones"

// DefaultTTL is how long a deletion stays visible to merge logic.
const DefaultTTL = 7 * 24 * time.Hour

// Record marks a single deleted entity. Records are created on successful
// local deletes and consulted, never mutated, by merge reads.
type Record struct {
	EntityID  string    `json:"entityId"`
	OwnerID   string    `json:"ownerId"`
	DeletedAt time.Time `json:"deletedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason"`
}

// expired is strictly after ExpiresAt: a record is still live at the exact
// expiry instant.
func (r Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Cache is the per-owner tombstone store.
type Cache struct {
	ks     keystore.Store
	ttl    time.Duration
	logger log.Logger
	now    func() time.Time
}

// NewCache builds a cache over the encrypted keystore. ttl <= 0 selects
// DefaultTTL.
func NewCache(ks keystore.Store, ttl time.Duration, logger log.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Cache{
		ks:     ks,
		ttl:    ttl,
		logger: logger.WithComponent("tombstone"),
		now:    time.Now,
	}
}

func (c *Cache) load(ownerID string) (map[string]Record, error) {
	raw, _, err := c.ks.Get(ownerID, storeKey)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("load tombstones: %w", err)
	}
	records := map[string]Record{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("load tombstones: %w", err)
	}
	return records, nil
}

func (c *Cache) save(ownerID string, records map[string]Record) error {
	if len(records) == 0 {
		if err := c.ks.Remove(ownerID, storeKey); err != nil && !errors.Is(err, keystore.ErrNotFound) {
			return fmt.Errorf("save tombstones: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("save tombstones: %w", err)
	}
	if err := c.ks.Set(ownerID, storeKey, raw); err != nil {
		return fmt.Errorf("save tombstones: %w", err)
	}
	return nil
}

// MarkDeleted records that entityID was deleted for ownerID.
func (c *Cache) MarkDeleted(ownerID, entityID, reason string) error {
	records, err := c.load(ownerID)
	if err != nil {
		return err
	}
	now := c.now()
	records[entityID] = Record{
		EntityID:  entityID,
		OwnerID:   ownerID,
		DeletedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Reason:    reason,
	}
	if err := c.save(ownerID, records); err != nil {
		return err
	}
	c.logger.Debug("tombstone recorded",
		log.Str("owner", ownerID), log.Str("entity", entityID), log.Str("reason", reason))
	return nil
}

// IsRecentlyDeleted reports whether entityID has an unexpired tombstone.
// Expired entries found along the way are evicted.
func (c *Cache) IsRecentlyDeleted(ownerID, entityID string) (bool, error) {
	records, err := c.load(ownerID)
	if err != nil {
		return false, err
	}
	rec, ok := records[entityID]
	if !ok {
		return false, nil
	}
	if rec.expired(c.now()) {
		delete(records, entityID)
		if err := c.save(ownerID, records); err != nil {
			c.logger.Warn("tombstone eviction failed", log.Err(err))
		}
		return false, nil
	}
	return true, nil
}

// RecentlyDeletedIDs returns the entity IDs with live tombstones for an
// owner. Expired entries are evicted as a side effect.
func (c *Cache) RecentlyDeletedIDs(ownerID string) ([]string, error) {
	records, err := c.load(ownerID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	ids := make([]string, 0, len(records))
	evicted := false
	for id, rec := range records {
		if rec.expired(now) {
			delete(records, id)
			evicted = true
			continue
		}
		ids = append(ids, id)
	}
	if evicted {
		if err := c.save(ownerID, records); err != nil {
			c.logger.Warn("tombstone eviction failed", log.Err(err))
		}
	}
	return ids, nil
}

// Sweep drops every expired tombstone for an owner and returns how many
// were removed. The maintenance loop calls this periodically.
func (c *Cache) Sweep(ownerID string) (int, error) {
	records, err := c.load(ownerID)
	if err != nil {
		return 0, err
	}
	now := c.now()
	removed := 0
	for id, rec := range records {
		if rec.expired(now) {
			delete(records, id)
			removed++
		}
	}
	if removed > 0 {
		if err := c.save(ownerID, records); err != nil {
			return 0, err
		}
		c.logger.Debug("tombstones swept", log.Str("owner", ownerID), log.Int("removed", removed))
	}
	return removed, nil
}
