package ingress

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgruss/karaoked/internal/corelog"
	"github.com/dgruss/karaoked/internal/errs"
	"github.com/dgruss/karaoked/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// startQueueWait bounds how long a Start call may wait to become
// head-of-queue, per spec §4.3/§5.
const startQueueWait = 20 * time.Second

// Linker is the subset of the audio-graph adapter Manager needs to
// wire an ingress's ports into a sink.
type Linker interface {
	PortLister
	Link(ctx context.Context, sourcePortID int, targetSinkName, channel string) error
	LinkByName(ctx context.Context, sourcePortName, targetSinkName, channel string) error
	Unlink(ctx context.Context, portID int) error
	ListLinks(ctx context.Context) (string, error)
}

// SinkNamer maps a sink index in [0,7) to its PipeWire sink name.
type SinkNamer func(sinkIndex int) (string, error)

// Manager coordinates every session's ingress supervisor: it
// serializes starts (FIFO per session id), owns the session -> sink
// mapping, and runs the liveness monitor. Exactly one Manager exists
// per daemon instance; it is not itself a package-level global —
// callers hold a typed reference, per the root-context design note.
type Manager struct {
	binPath   string
	linker    Linker
	sinkNamer SinkNamer

	startSem *semaphore.Weighted

	mu         sync.Mutex
	queue      []int64 // FIFO ticket order of session ids waiting to start
	supervisor map[int64]*Supervisor
	sink       map[int64]int
}

// NewManager builds a Manager that spawns binPath as the ingress child
// and links through linker.
func NewManager(binPath string, linker Linker, sinkNamer SinkNamer) *Manager {
	return &Manager{
		binPath:    binPath,
		linker:     linker,
		sinkNamer:  sinkNamer,
		startSem:   semaphore.NewWeighted(1),
		supervisor: make(map[int64]*Supervisor),
		sink:       make(map[int64]int),
	}
}

// enqueue appends sessionID to the FIFO ticket list and returns a
// function that removes it (called once this caller is done waiting,
// regardless of outcome).
func (m *Manager) enqueue(sessionID int64) func() {
	m.mu.Lock()
	m.queue = append(m.queue, sessionID)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		for i, id := range m.queue {
			if id == sessionID {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}
}

// Start enqueues a new ingress for sessionID, waits until it is
// head-of-queue (or the bounded wait elapses), replaces any prior
// ingress for this session, and delegates to a new Supervisor.
func (m *Manager) Start(ctx context.Context, sessionID int64, offer string) (Result, error) {
	dequeue := m.enqueue(sessionID)
	defer dequeue()

	waitCtx, cancel := context.WithTimeout(ctx, startQueueWait)
	defer cancel()

	if err := m.startSem.Acquire(waitCtx, 1); err != nil {
		metrics.IngressStartsTotal.WithLabelValues("busy").Inc()
		return Result{}, errs.Wrap(errs.IngressBusy, "ingress start queue wait exceeded", err)
	}
	defer m.startSem.Release(1)

	m.mu.Lock()
	if prior, ok := m.supervisor[sessionID]; ok {
		delete(m.supervisor, sessionID)
		delete(m.sink, sessionID)
		m.mu.Unlock()
		_ = prior.Stop(ctx)
	} else {
		m.mu.Unlock()
	}

	sup := New(sessionID, m.binPath, m.linker, func() {
		// Port discovery landed; auto-connect to the lobby sink (0)
		// per spec §4.2 step 6, regardless of what Start returned.
		connCtx, connCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer connCancel()
		if err := m.ConnectToSink(connCtx, sessionID, 0); err != nil {
			corelog.FromContext(connCtx).Warn().Err(err).Int64("session_id", sessionID).Msg("auto-connect to lobby sink failed")
		}
	})

	result, err := sup.Start(ctx, offer)
	if err != nil {
		metrics.IngressStartsTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}

	m.mu.Lock()
	m.supervisor[sessionID] = sup
	m.mu.Unlock()

	metrics.IngressStartsTotal.WithLabelValues("ok").Inc()
	metrics.IngressLive.Set(float64(m.liveCount()))
	return result, nil
}

func (m *Manager) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.supervisor)
}

// Remove tears down sessionID's ingress, if any, and purges any
// pending start-queue entry for it.
func (m *Manager) Remove(ctx context.Context, sessionID int64) {
	m.mu.Lock()
	sup, ok := m.supervisor[sessionID]
	delete(m.supervisor, sessionID)
	delete(m.sink, sessionID)
	for i, id := range m.queue {
		if id == sessionID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if ok {
		_ = sup.Stop(ctx)
	}
	metrics.IngressLive.Set(float64(m.liveCount()))
}

// HasIngress reports whether sessionID currently has a running
// ingress.
func (m *Manager) HasIngress(sessionID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.supervisor[sessionID]
	return ok
}

// IsAlive reports whether sessionID's ingress is alive, defaulting to
// false when there is none.
func (m *Manager) IsAlive(ctx context.Context, sessionID int64) bool {
	m.mu.Lock()
	sup, ok := m.supervisor[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return sup.IsAlive(ctx)
}

// SinkIndex returns the sink a session's ingress is currently
// connected to.
func (m *Manager) SinkIndex(sessionID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.sink[sessionID]
	return idx, ok
}

// ConnectToSink unlinks any current connections for sessionID's
// ingress ports, then links each discovered FL/FR channel into
// <sink_name>:input_<channel>, falling back to name-based linking when
// numeric ports are unavailable.
func (m *Manager) ConnectToSink(ctx context.Context, sessionID int64, sinkIndex int) error {
	if sinkIndex < 0 || sinkIndex >= 7 {
		return errs.New(errs.InvalidInput, fmt.Sprintf("sink index %d out of range", sinkIndex))
	}

	m.mu.Lock()
	sup, ok := m.supervisor[sessionID]
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.IngressFailed, "no ingress for session")
	}

	sinkName, err := m.sinkNamer(sinkIndex)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "resolve sink name", err)
	}

	if err := m.disconnectExisting(ctx, sup); err != nil {
		corelog.FromContext(ctx).Warn().Err(err).Int64("session_id", sessionID).Msg("disconnect before reconnect failed; continuing")
	}

	ports := sup.Ports()
	for _, ch := range []Channel{ChannelFL, ChannelFR} {
		ids := ports[ch]
		if len(ids) == 0 {
			// Fall back to name-based linking using the link name and
			// channel suffix convention.
			sourceName := fmt.Sprintf("%s:output_%s", sup.LinkName(), strings.ToLower(string(ch)))
			if err := m.linker.LinkByName(ctx, sourceName, sinkName, string(ch)); err != nil {
				return err
			}
			continue
		}
		if err := m.linker.Link(ctx, ids[0], sinkName, string(ch)); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.sink[sessionID] = sinkIndex
	m.mu.Unlock()
	return nil
}

// disconnectExisting parses the adapter's link listing to find peer
// ports joined to this ingress's output ports, then unlinks each peer.
func (m *Manager) disconnectExisting(ctx context.Context, sup *Supervisor) error {
	ports := sup.Ports()
	if len(ports) == 0 {
		return nil
	}

	listing, err := m.linker.ListLinks(ctx)
	if err != nil {
		return err
	}

	ownIDs := map[int]bool{}
	for _, ids := range ports {
		for _, id := range ids {
			ownIDs[id] = true
		}
	}

	for _, peerID := range peersOf(listing, ownIDs) {
		if err := m.linker.Unlink(ctx, peerID); err != nil {
			corelog.FromContext(ctx).Warn().Err(err).Int("port_id", peerID).Msg("unlink failed")
		}
	}
	return nil
}

// peersOf scans a `pw-link -I -l` style listing: a port header line
// ("<id>: <name>") is followed by its link lines ("-> <id>: <name>" or
// "<- <id>: <name>"). For each link line under a header whose id is in
// ownIDs, it extracts the peer id named on that link line.
func peersOf(listing string, ownIDs map[int]bool) []int {
	var peers []int
	underOwn := false
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		isLink := strings.Contains(line, "->") || strings.Contains(line, "<-")
		peer := -1
		for _, f := range fields {
			id, err := strconv.Atoi(strings.TrimSuffix(f, ":"))
			if err != nil {
				continue
			}
			if !isLink {
				underOwn = ownIDs[id]
				break
			}
			peer = id
		}
		if isLink && underOwn && peer >= 0 && !ownIDs[peer] {
			peers = append(peers, peer)
		}
	}
	return peers
}

// LivenessLoop runs until ctx is done, checking every 5 seconds whether
// each tracked ingress is still alive and removing it if not.
func (m *Manager) LivenessLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepDead(ctx)
		}
	}
}

func (m *Manager) sweepDead(ctx context.Context) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.supervisor))
	for id := range m.supervisor {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if !m.IsAlive(ctx, id) {
			m.Remove(ctx, id)
		}
	}
}
