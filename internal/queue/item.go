package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/pkg/id"
)

// Operation is the mutation kind carried by a queue item.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether the operation is one of the known kinds.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Boost is the operation's priority contribution. Deletes outrank updates
// outrank creates, so deletions are never starved behind a create backlog.
func (o Operation) Boost() int {
	switch o {
	case OpDelete:
		return 9
	case OpUpdate:
		return 6
	case OpCreate:
		return 3
	}
	return 0
}

// Item is one pending mutation. Workers mutate RetryCount, LastAttemptAt
// and RetryAt in place; everything else is fixed at enqueue.
type Item struct {
	ID             id.ID
	Operation      Operation
	Payload        entity.Payload
	EnqueuedAt     time.Time
	LastAttemptAt  time.Time
	RetryAt        time.Time
	RetryCount     int
	DeviceID       string
	BatchID        string
	IdempotencyKey string
	// RemoteID is set for UPDATE/DELETE items that target an entity the
	// remote store already knows.
	RemoteID string
}

// OwnerID is the per-owner ordering key.
func (it Item) OwnerID() string { return it.Payload.Owner() }

// EntityType returns the payload's type tag.
func (it Item) EntityType() entity.Type { return it.Payload.EntityType() }

// Priority is the ordering weight: entity base weight plus operation boost.
// Higher runs first.
func (it Item) Priority() int {
	return it.EntityType().BaseWeight() + it.Operation.Boost()
}

// Evictable reports whether the overflow guard may move this item to the
// dead-letter store. Deletes and high-priority items are never evicted.
func (it Item) Evictable() bool {
	return it.Operation != OpDelete && it.Priority() < 40
}

// Eligible reports whether the item may be dispatched at now.
func (it Item) Eligible(now time.Time) bool {
	return it.RetryAt.IsZero() || !now.Before(it.RetryAt)
}

type itemJSON struct {
	ID             string          `json:"id"`
	Operation      Operation       `json:"operation"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	LastAttemptAt  time.Time       `json:"lastAttemptAt,omitempty"`
	RetryAt        time.Time       `json:"retryAt,omitempty"`
	RetryCount     int             `json:"retryCount"`
	DeviceID       string          `json:"deviceId,omitempty"`
	BatchID        string          `json:"batchId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	RemoteID       string          `json:"remoteId,omitempty"`
}

// MarshalJSON encodes the payload through its tagged envelope so the
// concrete variant survives a round trip.
func (it Item) MarshalJSON() ([]byte, error) {
	payload, err := entity.MarshalPayload(it.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal item payload: %w", err)
	}
	return json.Marshal(itemJSON{
		ID:             it.ID.String(),
		Operation:      it.Operation,
		Payload:        payload,
		EnqueuedAt:     it.EnqueuedAt,
		LastAttemptAt:  it.LastAttemptAt,
		RetryAt:        it.RetryAt,
		RetryCount:     it.RetryCount,
		DeviceID:       it.DeviceID,
		BatchID:        it.BatchID,
		IdempotencyKey: it.IdempotencyKey,
		RemoteID:       it.RemoteID,
	})
}

func (it *Item) UnmarshalJSON(b []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := id.Parse(raw.ID)
	if err != nil {
		return fmt.Errorf("unmarshal item id: %w", err)
	}
	payload, err := entity.UnmarshalPayload(raw.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal item payload: %w", err)
	}
	*it = Item{
		ID:             parsed,
		Operation:      raw.Operation,
		Payload:        payload,
		EnqueuedAt:     raw.EnqueuedAt,
		LastAttemptAt:  raw.LastAttemptAt,
		RetryAt:        raw.RetryAt,
		RetryCount:     raw.RetryCount,
		DeviceID:       raw.DeviceID,
		BatchID:        raw.BatchID,
		IdempotencyKey: raw.IdempotencyKey,
		RemoteID:       raw.RemoteID,
	}
	return nil
}

// Less orders items for dispatch: higher priority first, then older
// enqueue time, then ID for a stable total order.
func Less(a, b *Item) bool {
	if pa, pb := a.Priority(), b.Priority(); pa != pb {
		return pa > pb
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID.Compare(b.ID) < 0
}

// Sort orders items in dispatch order.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return Less(&items[i], &items[j]) })
}

// NextEligible returns the index of the highest-priority item that is past
// its retry gate and whose owner is not in busy, or -1. items must already
// be in dispatch order. An owner whose head item is gated blocks the rest
// of that owner's items, preserving per-owner ordering.
func NextEligible(items []Item, busy map[string]struct{}, now time.Time) int {
	blocked := make(map[string]struct{})
	for i := range items {
		owner := items[i].OwnerID()
		if _, inFlight := busy[owner]; inFlight {
			continue
		}
		if _, b := blocked[owner]; b {
			continue
		}
		if !items[i].Eligible(now) {
			blocked[owner] = struct{}{}
			continue
		}
		return i
	}
	return -1
}
