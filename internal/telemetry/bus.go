package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a telemetry event class.
type Kind string

const (
	KindEnqueued     Kind = "enqueued"
	KindDuplicate    Kind = "duplicate_suppressed"
	KindSynced       Kind = "synced"
	KindFailed       Kind = "failed"
	KindDeadLettered Kind = "dead_lettered"
	KindOverflow     Kind = "overflow"
	KindSecurityHalt Kind = "security_halt"
	KindResolution   Kind = "conflict_resolved"
	KindInvalidation Kind = "cache_invalidation"
	KindStoreCommit  Kind = "store_commit"
)

// Event is a single telemetry record.
type Event struct {
	Kind       Kind
	Owner      string
	EntityType string
	Fields     map[string]interface{}
	At         time.Time
}

// Bus fans events out to subscribers without ever blocking a publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers the event to every subscriber. Full subscriber buffers
// drop the event; publishers are never delayed.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus an unsubscribe function. The channel is closed on
// unsubscribe or bus close.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Dropped returns how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
