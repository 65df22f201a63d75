package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptimizerGrowsOnHealthyBackend(t *testing.T) {
	o := NewOptimizer(2, 8)

	for i := 0; i < 50; i++ {
		o.Record(true, 100*time.Millisecond)
	}
	assert.Equal(t, 8, o.Size())
}

func TestOptimizerShrinksOnFailures(t *testing.T) {
	o := NewOptimizer(4, 8)

	for i := 0; i < 50; i++ {
		o.Record(false, 100*time.Millisecond)
	}
	assert.Equal(t, 1, o.Size())
}

func TestOptimizerShrinksOnSlowBackend(t *testing.T) {
	o := NewOptimizer(4, 8)

	for i := 0; i < 20; i++ {
		o.Record(true, 10*time.Second)
	}
	assert.Less(t, o.Size(), 4)
}

func TestOptimizerDriftsBackToBaseline(t *testing.T) {
	o := NewOptimizer(2, 8)

	for i := 0; i < 50; i++ {
		o.Record(true, 100*time.Millisecond)
	}
	assert.Equal(t, 8, o.Size())

	// Mixed results pull concurrency back toward the configured base.
	for i := 0; i < 50; i++ {
		o.Record(i%3 != 0, 2*time.Second)
	}
	assert.Equal(t, 2, o.Size())
}

func TestOptimizerNeedsEvidence(t *testing.T) {
	o := NewOptimizer(2, 8)
	for i := 0; i < 5; i++ {
		o.Record(true, time.Millisecond)
	}
	// Too few samples to act on.
	assert.Equal(t, 2, o.Size())
}
