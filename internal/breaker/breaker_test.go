package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacekit/syncd/pkg/log"
)

var errRemote = errors.New("remote down")

func newTestBreaker(threshold int) (*Breaker, *time.Time) {
	b := New(Options{
		FailureThreshold: threshold,
		FailureWindow:    30 * time.Second,
		Cooldown:         time.Minute,
	}, log.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func fail(b *Breaker) error    { return b.Execute(func() error { return errRemote }) }
func succeed(b *Breaker) error { return b.Execute(func() error { return nil }) }

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)

	require.ErrorIs(t, fail(b), errRemote)
	require.ErrorIs(t, fail(b), errRemote)
	assert.Equal(t, StateClosed, b.State())

	require.ErrorIs(t, fail(b), errRemote)
	assert.Equal(t, StateOpen, b.State())

	// Open circuit rejects without invoking fn.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestSuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(3)

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.NoError(t, succeed(b))
	require.Error(t, fail(b))
	require.Error(t, fail(b))

	assert.Equal(t, StateClosed, b.State())
}

func TestStaleStreakRestartsOutsideWindow(t *testing.T) {
	b, now := newTestBreaker(3)

	require.Error(t, fail(b))
	require.Error(t, fail(b))

	*now = now.Add(time.Minute) // past the 30s window
	require.Error(t, fail(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(2)

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	// Successful probe closes the circuit.
	require.NoError(t, succeed(b))
	assert.Equal(t, StateClosed, b.State())
}

func TestFailedProbeReopens(t *testing.T) {
	b, now := newTestBreaker(2)

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	*now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, fail(b), errRemote)
	assert.Equal(t, StateOpen, b.State())

	// And the cool-down starts over from the failed probe.
	assert.ErrorIs(t, succeed(b), ErrOpen)
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b, now := newTestBreaker(2)

	require.Error(t, fail(b))
	require.Error(t, fail(b))
	*now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// While the probe is in flight every other call is rejected.
	assert.ErrorIs(t, succeed(b), ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}
