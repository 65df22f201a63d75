package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/pacekit/syncd/pkg/log"
)

// ErrOpen is returned when the circuit rejects a call without attempting it.
var ErrOpen = errors.New("breaker: circuit open")

// State is the breaker's position.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Options tune the breaker. Zero values select the defaults.
type Options struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Default 5.
	FailureThreshold int
	// FailureWindow bounds how old the failure streak may be; a streak whose
	// first failure falls outside the window restarts. Default 30s.
	FailureWindow time.Duration
	// Cooldown is how long the circuit stays open before allowing a probe.
	// Default 60s.
	Cooldown time.Duration
}

func (o *Options) defaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = 30 * time.Second
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 60 * time.Second
	}
}

// Breaker is safe for concurrent use by multiple workers.
type Breaker struct {
	opts   Options
	logger log.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	streakStart time.Time
	openedAt    time.Time
	probing     bool
}

// New builds a closed breaker.
func New(opts Options, logger log.Logger) *Breaker {
	opts.defaults()
	if logger == nil {
		logger = log.NewNop()
	}
	return &Breaker{
		opts:   opts,
		logger: logger.WithComponent("breaker"),
		now:    time.Now,
		state:  StateClosed,
	}
}

// State returns the current position, promoting OPEN to HALF_OPEN when the
// cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = StateHalfOpen
		b.probing = false
	}
	return b.state
}

// Execute runs fn unless the circuit is open. In HALF_OPEN exactly one
// caller gets through as the probe; the rest are rejected with ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("circuit closed")
		}
		b.state = StateClosed
		b.failures = 0
		b.probing = false
		return
	}

	now := b.now()
	if b.state == StateHalfOpen {
		// Failed probe: straight back to open.
		b.open(now)
		return
	}

	if b.failures == 0 || now.Sub(b.streakStart) > b.opts.FailureWindow {
		b.failures = 0
		b.streakStart = now
	}
	b.failures++
	if b.failures >= b.opts.FailureThreshold {
		b.open(now)
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = 0
	b.probing = false
	b.logger.Warn("circuit opened", log.Duration("cooldown", b.opts.Cooldown))
}
