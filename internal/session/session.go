// Package session implements the session registry: per-player session
// lifecycle, display names, delay preferences, room membership, and
// heartbeat-driven liveness eviction. Grounded on
// original_source/server.py's session_id-keyed dictionaries, adapted
// into a typed, mutex-guarded registry in the teacher's style (compare
// github.com/ManuGH/xg2g/internal/library's in-memory store shape).
package session

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/dgruss/karaoked/internal/metrics"
)

// DefaultMaxNameLength is the package-level fallback; the name length
// limit in use is set at construction time from config.
const DefaultMaxNameLength = 16

// Session is one connected player's server-side state.
type Session struct {
	ID            int64
	DisplayName   string
	DelayMS       int
	CurrentRoom   string // empty string means no room
	LastSeen      time.Time
	SinkIndex     int
	HasIngress    bool
	ControlLocked bool // not set by any code path; control-lock ownership is tracked by package control
}

func (s Session) clone() Session { return s }

// IngressLivenessFunc reports whether a session's ingress, if any, is
// still alive. Injected so the registry does not import the ingress
// package directly (it only needs a liveness predicate, per spec
// §4.4's "if ingress exists and IsAlive() is true, skip").
type IngressLivenessFunc func(sessionID int64) (exists bool, alive bool)

// Registry owns the session_id -> Session map.
type Registry struct {
	maxNameLength  int
	staleThreshold time.Duration

	mu       sync.Mutex
	sessions map[int64]*Session

	ingressLiveness IngressLivenessFunc

	// onEvict is called (outside the lock) for each session the
	// sweeper evicts, so callers can remove it from rooms, release the
	// control lock, and rewrite the game config.
	onEvict func(sessionID int64, displayName string)
}

// NewRegistry builds an empty Registry.
func NewRegistry(maxNameLength int, staleThreshold time.Duration, ingressLiveness IngressLivenessFunc, onEvict func(sessionID int64, displayName string)) *Registry {
	if maxNameLength <= 0 {
		maxNameLength = DefaultMaxNameLength
	}
	return &Registry{
		maxNameLength:   maxNameLength,
		staleThreshold:  staleThreshold,
		sessions:        make(map[int64]*Session),
		ingressLiveness: ingressLiveness,
		onEvict:         onEvict,
	}
}

// NewID allocates a random positive session id not already in use.
func (r *Registry) NewID() int64 {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
		if err != nil {
			continue
		}
		id := n.Int64() + 1
		r.mu.Lock()
		_, exists := r.sessions[id]
		r.mu.Unlock()
		if !exists {
			return id
		}
	}
}

// Touch creates sessionID if absent and updates LastSeen. Returns the
// (possibly new) session.
func (r *Registry) Touch(sessionID int64) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = &Session{ID: sessionID, LastSeen: time.Now()}
		r.sessions[sessionID] = s
		metrics.SessionsLive.Set(float64(len(r.sessions)))
	} else {
		s.LastSeen = time.Now()
	}
	return s.clone()
}

// Get returns a copy of the session, if present.
func (r *Registry) Get(sessionID int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// TruncateName truncates name to MaxNameLength bytes, or returns
// "user-<id>" if it is empty after truncation.
func (r *Registry) TruncateName(sessionID int64, name string) string {
	if len(name) > r.maxNameLength {
		name = name[:r.maxNameLength]
	}
	if name == "" {
		return defaultName(sessionID)
	}
	return name
}

func defaultName(sessionID int64) string {
	return "user-" + strconv.FormatInt(sessionID, 10)
}

// SetDisplayName records name for sessionID.
func (r *Registry) SetDisplayName(sessionID int64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.DisplayName = name
	}
}

// SetDelay records the player's audio delay preference.
func (r *Registry) SetDelay(sessionID int64, delayMS int) {
	if delayMS < 0 {
		delayMS = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.DelayMS = delayMS
	}
}

// SetRoom records a session's current room and sink index together,
// per spec §4.5 step 9.
func (r *Registry) SetRoom(sessionID int64, room string, sinkIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.CurrentRoom = room
		s.SinkIndex = sinkIndex
	}
}

// SetHasIngress records whether sessionID currently has a running
// ingress.
func (r *Registry) SetHasIngress(sessionID int64, has bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.HasIngress = has
	}
}

// MeanDelayByNames returns the mean DelayMS across all live sessions
// whose DisplayName is in names, or 0 if none match. Used by the
// Game-Config Writer's [PlayerDelay] section.
func (r *Registry) MeanDelayByNames(names []string) int {
	if len(names) == 0 {
		return 0
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	total, count := 0, 0
	for _, s := range r.sessions {
		if set[s.DisplayName] {
			total += s.DelayMS
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / count
}

// Remove deletes sessionID outright (explicit disconnect).
func (r *Registry) Remove(sessionID int64) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	metrics.SessionsLive.Set(float64(len(r.sessions)))
	r.mu.Unlock()
}

// SweepStale evicts sessions whose LastSeen predates staleThreshold
// and whose ingress (if any) is not alive, invoking onEvict for each.
func (r *Registry) SweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-r.staleThreshold)

	r.mu.Lock()
	var toEvict []Session
	for id, s := range r.sessions {
		if s.LastSeen.After(cutoff) {
			continue
		}
		if r.ingressLiveness != nil {
			if exists, alive := r.ingressLiveness(id); exists && alive {
				continue
			}
		}
		toEvict = append(toEvict, s.clone())
	}
	for _, s := range toEvict {
		delete(r.sessions, s.ID)
	}
	metrics.SessionsLive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range toEvict {
		metrics.SessionsStaleTotal.Inc()
		if r.onEvict != nil {
			r.onEvict(s.ID, s.DisplayName)
		}
	}
}

// Run starts the periodic stale-session sweep on the given interval,
// blocking until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepStale(ctx)
		}
	}
}
