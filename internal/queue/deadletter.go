package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/pkg/log"
)

const dlqPrefix = "dlq/"

// ErrEntryNotFound is returned when a dead-letter entry id is unknown.
var ErrEntryNotFound = errors.New("queue: dead-letter entry not found")

// DeadLetterEntry wraps a failed item with its burial context.
type DeadLetterEntry struct {
	ID       string    `json:"id"`
	Item     Item      `json:"item"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failedAt"`
}

// DeadLetter stores items that exhausted their retries or were evicted.
type DeadLetter struct {
	db     *pebblestore.DB
	logger log.Logger
	now    func() time.Time
}

// NewDeadLetter builds a dead-letter store over db.
func NewDeadLetter(db *pebblestore.DB, logger log.Logger) *DeadLetter {
	if logger == nil {
		logger = log.NewNop()
	}
	return &DeadLetter{db: db, logger: logger.WithComponent("dlq"), now: time.Now}
}

// Add buries an item with its failure reason and returns the entry.
func (d *DeadLetter) Add(item Item, reason string) (DeadLetterEntry, error) {
	entry := DeadLetterEntry{
		ID:       uuid.NewString(),
		Item:     item,
		Reason:   reason,
		FailedAt: d.now(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return DeadLetterEntry{}, fmt.Errorf("dead-letter add: %w", err)
	}
	if err := d.db.Set([]byte(dlqPrefix+entry.ID), raw); err != nil {
		return DeadLetterEntry{}, fmt.Errorf("dead-letter add: %w", err)
	}
	d.logger.Warn("item dead-lettered",
		log.Str("item", item.ID.String()),
		log.Str("owner", item.OwnerID()),
		log.Str("reason", reason))
	return entry, nil
}

// Get returns one entry by id.
func (d *DeadLetter) Get(entryID string) (DeadLetterEntry, error) {
	raw, err := d.db.Get([]byte(dlqPrefix + entryID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return DeadLetterEntry{}, ErrEntryNotFound
		}
		return DeadLetterEntry{}, fmt.Errorf("dead-letter get: %w", err)
	}
	var entry DeadLetterEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return DeadLetterEntry{}, fmt.Errorf("dead-letter get: %w", err)
	}
	return entry, nil
}

// List returns entries ordered oldest first. max <= 0 returns all.
func (d *DeadLetter) List(max int) ([]DeadLetterEntry, error) {
	kvs, err := d.db.ScanPrefix([]byte(dlqPrefix), 0)
	if err != nil {
		return nil, fmt.Errorf("dead-letter list: %w", err)
	}
	entries := make([]DeadLetterEntry, 0, len(kvs))
	for _, kv := range kvs {
		var entry DeadLetterEntry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			d.logger.Warn("skipping corrupt dead-letter entry", log.Str("key", string(kv.Key)), log.Err(err))
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].FailedAt.Before(entries[j].FailedAt) })
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	return entries, nil
}

// Remove deletes one entry.
func (d *DeadLetter) Remove(entryID string) error {
	has, err := d.db.Has([]byte(dlqPrefix + entryID))
	if err != nil {
		return fmt.Errorf("dead-letter remove: %w", err)
	}
	if !has {
		return ErrEntryNotFound
	}
	return d.db.Delete([]byte(dlqPrefix + entryID))
}

// Take removes and returns one entry, for re-enqueueing.
func (d *DeadLetter) Take(entryID string) (DeadLetterEntry, error) {
	entry, err := d.Get(entryID)
	if err != nil {
		return DeadLetterEntry{}, err
	}
	if err := d.db.Delete([]byte(dlqPrefix + entryID)); err != nil {
		return DeadLetterEntry{}, fmt.Errorf("dead-letter take: %w", err)
	}
	return entry, nil
}

// Purge deletes every entry and returns how many were removed.
func (d *DeadLetter) Purge() (int, error) {
	entries, err := d.List(0)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if err := d.db.Delete([]byte(dlqPrefix + entry.ID)); err != nil {
			return 0, fmt.Errorf("dead-letter purge: %w", err)
		}
	}
	return len(entries), nil
}
