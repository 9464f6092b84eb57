package roomhub

import (
	"context"
	"testing"
	"time"

	"github.com/dgruss/karaoked/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	h := New()
	initial := room.Snapshot{Rooms: map[string][]string{room.Mic1: {"Ada"}}}

	sub, err := h.Subscribe(context.Background(), initial)
	require.NoError(t, err)

	select {
	case payload := <-sub.Events():
		assert.Contains(t, string(payload), "Ada")
	case <-time.After(time.Second):
		t.Fatal("expected initial snapshot to be queued immediately")
	}
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	h := New()
	sub1, err := h.Subscribe(context.Background(), room.Snapshot{})
	require.NoError(t, err)
	sub2, err := h.Subscribe(context.Background(), room.Snapshot{})
	require.NoError(t, err)

	<-sub1.Events()
	<-sub2.Events()

	h.Broadcast(room.Snapshot{Rooms: map[string][]string{room.Mic2: {"Bob"}}})

	select {
	case payload := <-sub1.Events():
		assert.Contains(t, string(payload), "Bob")
	case <-time.After(time.Second):
		t.Fatal("sub1 did not receive broadcast")
	}
	select {
	case payload := <-sub2.Events():
		assert.Contains(t, string(payload), "Bob")
	case <-time.After(time.Second):
		t.Fatal("sub2 did not receive broadcast")
	}
}

func TestCloseRemovesSubscriber(t *testing.T) {
	h := New()
	sub, err := h.Subscribe(context.Background(), room.Snapshot{})
	require.NoError(t, err)

	sub.Close()

	h.mu.Lock()
	_, present := h.subscribers[sub.id]
	h.mu.Unlock()
	assert.False(t, present)
}

func TestSlowSubscriberDroppedAfterThreeMisses(t *testing.T) {
	h := New()
	sub, err := h.Subscribe(context.Background(), room.Snapshot{})
	require.NoError(t, err)

	// Fill the subscriber's buffer (capacity subscriberBufferSize,
	// one slot already used by the initial snapshot) without draining
	// it, then push past capacity so every further broadcast misses.
	for i := 0; i < subscriberBufferSize; i++ {
		h.Broadcast(room.Snapshot{})
	}

	h.mu.Lock()
	_, stillPresent := h.subscribers[sub.id]
	h.mu.Unlock()
	require.True(t, stillPresent, "subscriber should survive while only its buffer is full")

	for i := 0; i < 3; i++ {
		h.Broadcast(room.Snapshot{})
	}

	h.mu.Lock()
	_, present := h.subscribers[sub.id]
	h.mu.Unlock()
	assert.False(t, present, "subscriber should be dropped after 3 consecutive missed deliveries")
}
