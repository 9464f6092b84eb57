// Package room implements the room coordinator: the lobby/mic room
// table, capacity rules, membership mutations, and sink-index
// derivation. Grounded on original_source/server.py's ROOMS /
// ROOM_CAPACITY globals plus join()/leave() logic, restructured as a
// mutex-guarded type per the teacher's preference for typed owned
// state over package globals.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgruss/karaoked/internal/errs"
	"github.com/dgruss/karaoked/internal/metrics"
)

// Lobby and the six mic rooms, in the fixed order spec.md defines
// them.
const (
	Lobby = "lobby"
	Mic1  = "mic1"
	Mic2  = "mic2"
	Mic3  = "mic3"
	Mic4  = "mic4"
	Mic5  = "mic5"
	Mic6  = "mic6"
)

// Names lists every room in canonical order.
var Names = []string{Lobby, Mic1, Mic2, Mic3, Mic4, Mic5, Mic6}

// MicRooms lists only the six numbered mic rooms.
var MicRooms = []string{Mic1, Mic2, Mic3, Mic4, Mic5, Mic6}

func isValid(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// SinkIndex derives the sink index for a room: lobby -> 0, mic<k> -> k.
func SinkIndex(roomName string) (int, error) {
	if roomName == Lobby {
		return 0, nil
	}
	for i, m := range MicRooms {
		if m == roomName {
			return i + 1, nil
		}
	}
	return 0, errs.New(errs.UnknownRoom, fmt.Sprintf("unknown room %q", roomName))
}

// Snapshot is the JSON-serializable view returned to clients and
// pushed to SSE subscribers.
type Snapshot struct {
	Rooms    map[string][]string `json:"rooms"`
	Capacity map[string]int      `json:"capacity"`
}

// CapacityStore persists the per-room capacity map.
type CapacityStore interface {
	Load() (map[string]int, error)
	Save(map[string]int) error
}

// Coordinator owns the room table under a single lock, per spec §5's
// RoomLock.
type Coordinator struct {
	mu       sync.Mutex
	members  map[string][]string // room -> ordered display names
	capacity map[string]int      // mic room -> capacity
	store    CapacityStore

	onChange func(Snapshot)
}

// New builds a Coordinator with default capacities (6 per mic room),
// overridden by whatever the store has persisted.
func New(store CapacityStore, onChange func(Snapshot)) *Coordinator {
	c := &Coordinator{
		members:  make(map[string][]string),
		capacity: make(map[string]int),
		store:    store,
		onChange: onChange,
	}
	for _, r := range Names {
		c.members[r] = nil
	}
	for _, r := range MicRooms {
		c.capacity[r] = 6
	}
	if store != nil {
		if loaded, err := store.Load(); err == nil {
			for room, cap := range loaded {
				if isValid(room) && room != Lobby {
					c.capacity[room] = clamp(cap, 1, 6)
				}
			}
		}
	}
	return c
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot returns a deep copy of the current rooms/capacity state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() Snapshot {
	rooms := make(map[string][]string, len(c.members))
	for room, members := range c.members {
		rooms[room] = append([]string(nil), members...)
	}
	capacity := make(map[string]int, len(c.capacity))
	for room, cap := range c.capacity {
		capacity[room] = cap
	}
	return Snapshot{Rooms: rooms, Capacity: capacity}
}

func removeName(list []string, name string) ([]string, bool) {
	for i, n := range list {
		if n == name {
			return append(append([]string(nil), list[:i]...), list[i+1:]...), true
		}
	}
	return list, false
}

// Join removes name from whatever room it currently occupies and adds
// it to target, enforcing mic-room capacity. Returns the resulting sink
// index for target.
func (c *Coordinator) Join(ctx context.Context, room, name string) (sinkIndex int, err error) {
	if !isValid(room) {
		return 0, errs.New(errs.UnknownRoom, fmt.Sprintf("unknown room %q", room))
	}

	c.mu.Lock()
	for r, members := range c.members {
		if updated, removed := removeName(members, name); removed {
			c.members[r] = updated
		}
	}

	if room != Lobby {
		cap := c.capacity[room]
		if len(c.members[room]) >= cap {
			c.mu.Unlock()
			metrics.RoomJoinsTotal.WithLabelValues(room, "room_full").Inc()
			return 0, errs.New(errs.RoomFull, fmt.Sprintf("%s is full (%d/%d)", room, cap, cap))
		}
	}
	c.members[room] = append(c.members[room], name)
	for r, members := range c.members {
		metrics.RoomOccupancy.WithLabelValues(r).Set(float64(len(members)))
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	metrics.RoomJoinsTotal.WithLabelValues(room, "ok").Inc()
	if c.onChange != nil {
		c.onChange(snap)
	}

	return SinkIndex(room)
}

// Leave removes name from whichever room it currently occupies, if
// any. Returns true if it was found.
func (c *Coordinator) Leave(ctx context.Context, name string) bool {
	c.mu.Lock()
	found := false
	for r, members := range c.members {
		if updated, removed := removeName(members, name); removed {
			c.members[r] = updated
			found = true
		}
	}
	if !found {
		c.mu.Unlock()
		return false
	}
	for r, members := range c.members {
		metrics.RoomOccupancy.WithLabelValues(r).Set(float64(len(members)))
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(snap)
	}
	return true
}

// MembersOf returns a copy of a room's member list.
func (c *Coordinator) MembersOf(room string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.members[room]...)
}

// SetCapacity clamps and persists capacity updates for mic rooms.
// Restricted to the control-lock owner by the caller (§4.5's
// permission check lives in the control/HTTP layer, not here, since
// Coordinator has no notion of "who is calling").
func (c *Coordinator) SetCapacity(updates map[string]int) error {
	c.mu.Lock()
	for room, v := range updates {
		if !isValid(room) || room == Lobby {
			continue
		}
		c.capacity[room] = clamp(v, 1, 6)
	}
	capacity := make(map[string]int, len(c.capacity))
	for room, v := range c.capacity {
		capacity[room] = v
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	var err error
	if c.store != nil {
		err = c.store.Save(capacity)
	}
	if c.onChange != nil {
		c.onChange(snap)
	}
	return err
}
