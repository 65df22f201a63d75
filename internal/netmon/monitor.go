package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/pacekit/syncd/pkg/log"
)

// Probe reports whether the remote store is currently reachable.
type Probe func(ctx context.Context) bool

// Monitor tracks connectivity and fans state changes out to subscribers.
type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   log.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor builds a monitor that starts offline. probe may be nil when
// connectivity is driven purely through Set.
func NewMonitor(probe Probe, interval time.Duration, logger log.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.WithComponent("netmon"),
		subs:     make(map[int]func(bool)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins periodic probing. It returns immediately; probing runs until
// Stop is called or ctx is cancelled. Without a probe Start is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if m.probe == nil {
		close(m.done)
		return
	}
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	m.Set(m.probe(ctx))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Set(m.probe(ctx))
		}
	}
}

// Stop terminates the probe loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the connectivity state. Subscribers are notified only when the
// state actually changes, once per transition.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("network restored")
	} else {
		m.logger.Info("network lost")
	}
	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn and immediately invokes it with the current state.
// The returned function removes the subscription.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	current := m.online
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
