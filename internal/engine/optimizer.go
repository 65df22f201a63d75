package engine

import (
	"sync"
	"time"
)

const optimizerWindow = 20

// Optimizer adapts drain concurrency to observed remote behavior: a healthy
// fast backend gets more parallel workers, a struggling one gets fewer.
type Optimizer struct {
	mu      sync.Mutex
	base    int
	max     int
	size    int
	results []result
}

type result struct {
	ok      bool
	latency time.Duration
}

// NewOptimizer starts at base concurrency, never exceeding max.
func NewOptimizer(base, max int) *Optimizer {
	if base <= 0 {
		base = 2
	}
	if max < base {
		max = base
	}
	return &Optimizer{base: base, max: max, size: base}
}

// Size returns the current concurrency target.
func (o *Optimizer) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size
}

// Record feeds one dispatch outcome into the rolling window and recomputes
// the target.
func (o *Optimizer) Record(ok bool, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.results = append(o.results, result{ok: ok, latency: latency})
	if len(o.results) > optimizerWindow {
		o.results = o.results[len(o.results)-optimizerWindow:]
	}
	if len(o.results) < optimizerWindow/2 {
		return
	}

	succeeded := 0
	var total time.Duration
	for _, r := range o.results {
		if r.ok {
			succeeded++
		}
		total += r.latency
	}
	rate := float64(succeeded) / float64(len(o.results))
	avg := total / time.Duration(len(o.results))

	switch {
	case rate >= 0.9 && avg < time.Second:
		if o.size < o.max {
			o.size++
		}
	case rate < 0.5 || avg > 3*time.Second:
		if o.size > 1 {
			o.size--
		}
	default:
		// Drift back toward the configured baseline.
		if o.size > o.base {
			o.size--
		} else if o.size < o.base {
			o.size++
		}
	}
}
