package queue

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/pacekit/syncd/internal/keystore"
	"github.com/pacekit/syncd/internal/telemetry"
	"github.com/pacekit/syncd/pkg/log"
)

const backupKey = "queue-overflow-backup"

// ErrQueueFull is returned when the queue is at capacity and nothing in it
// may be evicted.
var ErrQueueFull = errors.New("queue: full and no evictable items")

// OverflowGuard enforces the queue's size bound. Eviction moves the oldest
// low-priority items to the dead-letter store; losing data silently is
// never an option.
type OverflowGuard struct {
	max      int
	fraction float64
	dlq      *DeadLetter
	ks       keystore.Store
	bus      *telemetry.Bus
	logger   log.Logger
}

// NewOverflowGuard builds a guard. fraction is the share of capacity freed
// per overflow; zero selects 10%.
func NewOverflowGuard(max int, fraction float64, dlq *DeadLetter, ks keystore.Store, bus *telemetry.Bus, logger log.Logger) *OverflowGuard {
	if max <= 0 {
		max = 500
	}
	if fraction <= 0 || fraction > 1 {
		fraction = 0.10
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &OverflowGuard{
		max:      max,
		fraction: fraction,
		dlq:      dlq,
		ks:       ks,
		bus:      bus,
		logger:   logger.WithComponent("overflow"),
	}
}

// Max returns the configured capacity.
func (g *OverflowGuard) Max() int { return g.max }

// Admit makes room for one more item in the owner's queue, evicting if the
// queue is at capacity. It returns the possibly-shrunk queue. The caller
// appends the incoming item afterwards.
func (g *OverflowGuard) Admit(ownerID string, items []Item) ([]Item, error) {
	if len(items) < g.max {
		return items, nil
	}

	candidates := make([]int, 0, len(items))
	for i := range items {
		if items[i].Evictable() {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return items, ErrQueueFull
	}

	// Oldest first among the evictable.
	sort.Slice(candidates, func(a, b int) bool {
		return items[candidates[a]].EnqueuedAt.Before(items[candidates[b]].EnqueuedAt)
	})
	want := int(math.Ceil(float64(g.max) * g.fraction))
	if want > len(candidates) {
		want = len(candidates)
	}
	evicting := candidates[:want]

	evicted := make(map[int]struct{}, want)
	failed := make([]Item, 0)
	for _, idx := range evicting {
		if _, err := g.dlq.Add(items[idx], "queue overflow"); err != nil {
			g.logger.Error("dead-letter handoff failed during eviction", log.Err(err))
			failed = append(failed, items[idx])
		}
		evicted[idx] = struct{}{}
	}
	if len(failed) > 0 {
		g.emergencyBackup(ownerID, failed)
	}

	kept := items[:0]
	for i := range items {
		if _, gone := evicted[i]; !gone {
			kept = append(kept, items[i])
		}
	}

	g.logger.Warn("queue overflow, items evicted",
		log.Str("owner", ownerID),
		log.Int("evicted", want),
		log.Int("remaining", len(kept)))
	if g.bus != nil {
		g.bus.Publish(telemetry.Event{
			Kind:  telemetry.KindOverflow,
			Owner: ownerID,
			Fields: map[string]interface{}{
				"evicted":   want,
				"remaining": len(kept),
				"backupUse": len(failed) > 0,
			},
		})
	}
	return kept, nil
}

// emergencyBackup persists items that could not be handed to the
// dead-letter store, then alerts the user to potential data loss.
func (g *OverflowGuard) emergencyBackup(ownerID string, items []Item) {
	raw, err := json.Marshal(items)
	if err == nil {
		err = g.ks.Set(ownerID, backupKey+"/"+time.Now().UTC().Format(time.RFC3339Nano), raw)
	}
	if err != nil {
		g.logger.Error("emergency backup failed, data loss", log.Str("owner", ownerID), log.Err(err))
	} else {
		g.logger.Error("evicted items preserved in emergency backup", log.Str("owner", ownerID), log.Int("count", len(items)))
	}
	if g.bus != nil {
		g.bus.Publish(telemetry.Event{
			Kind:  telemetry.KindOverflow,
			Owner: ownerID,
			Fields: map[string]interface{}{
				"alert":      "potential data loss",
				"backupSize": len(items),
				"backupOK":   err == nil,
			},
		})
	}
}
