// Package roomhub is the event stream hub: it fans out room/capacity
// snapshots to SSE subscribers. Grounded on
// original_source/server.py's rooms_stream() generator (a
// per-subscriber queue.Queue, an initial snapshot on connect, then
// blocking reads until the next push, with cleanup on disconnect),
// translated to a buffered Go channel per subscriber and a
// best-effort, non-blocking broadcast discipline per spec §4.6.
package roomhub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dgruss/karaoked/internal/metrics"
	"github.com/dgruss/karaoked/internal/room"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const subscriberBufferSize = 16

// Hub fans out Snapshot broadcasts to subscribers. Delivery is
// best-effort and per-subscriber: a subscriber whose buffer is full
// gets one more non-blocking attempt if its own rate limiter allows
// it; a subscriber that misses three deliveries in a row is dropped.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
}

type subscriber struct {
	ch      chan []byte
	limiter *rate.Limiter
	misses  int
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{subscribers: make(map[string]*subscriber)}
}

// Subscription is a live subscriber handle. Callers range over
// Events() until ctx is done or Close is called.
type Subscription struct {
	id  string
	hub *Hub
	ch  chan []byte
}

// Events returns the channel of pending, already-marshaled snapshot
// payloads.
func (s *Subscription) Events() <-chan []byte { return s.ch }

// Close removes the subscription from the hub.
func (s *Subscription) Close() { s.hub.remove(s.id) }

// Subscribe registers a new subscriber and immediately enqueues the
// given initial snapshot.
func (h *Hub) Subscribe(ctx context.Context, initial room.Snapshot) (*Subscription, error) {
	payload, err := json.Marshal(initial)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sub := &subscriber{
		ch:      make(chan []byte, subscriberBufferSize),
		limiter: rate.NewLimiter(rate.Limit(20), 20),
	}
	sub.ch <- payload

	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()

	return &Subscription{id: id, hub: h, ch: sub.ch}, nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

// Broadcast marshals snap and delivers it to every subscriber:
// non-blocking send first; if the buffer is full and the subscriber's
// own rate limiter allows it, one more non-blocking send. A subscriber
// whose delivery fails on three consecutive broadcasts is dropped.
func (h *Hub) Broadcast(snap room.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		select {
		case sub.ch <- payload:
			sub.misses = 0
			continue
		default:
		}

		if sub.limiter.Allow() {
			select {
			case sub.ch <- payload:
				sub.misses = 0
				continue
			default:
			}
		}

		sub.misses++
		if sub.misses >= 3 {
			delete(h.subscribers, id)
			metrics.SubscribersDropped.Inc()
		}
	}
}
