package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Kind: KindEnqueued, Owner: "u1", EntityType: "profile"})

	select {
	case e := <-ch:
		assert.Equal(t, KindEnqueued, e.Kind)
		assert.Equal(t, "u1", e.Owner)
		assert.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, cancel := bus.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Kind: KindSynced})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(9), bus.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Kind: KindFailed})
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, _ := bus.Subscribe(1)
	ch2, _ := bus.Subscribe(1)

	bus.Close()
	bus.Close() // idempotent

	_, open := <-ch1
	require.False(t, open)
	_, open = <-ch2
	require.False(t, open)

	// Subscribing after close yields a closed channel.
	ch3, cancel := bus.Subscribe(1)
	cancel()
	_, open = <-ch3
	assert.False(t, open)
}
