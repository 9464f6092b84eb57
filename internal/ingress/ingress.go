// Package ingress supervises the per-session audio-ingress child
// processes: one WebRTC-to-PipeWire bridge per connected microphone.
// Grounded on original_source/webrtc_microphone.py's Player class (the
// base64-JSON offer/answer handshake over the child's stdio, the
// "concatenate nonempty lines until a decode succeeds" discipline, and
// the background port-discovery retry loop) and on
// github.com/ManuGH/xg2g/internal/procgroup for child lifecycle.
package ingress

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dgruss/karaoked/internal/corelog"
	"github.com/dgruss/karaoked/internal/errs"
	"github.com/dgruss/karaoked/internal/procgroup"
	"github.com/rs/zerolog"
)

// Channel is an audio channel label discovered on an ingress child's
// output ports.
type Channel string

const (
	ChannelFL    Channel = "FL"
	ChannelFR    Channel = "FR"
	ChannelOther Channel = "OTHER"
)

// Ports maps a discovered channel to the numeric port ids that carry
// it.
type Ports map[Channel][]int

// sdpPayload is the base64-encoded JSON the child reads/writes on its
// stdio, `{"sdp": "...", "type": "offer"|"answer"}`.
type sdpPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

const connectionStateMarker = "Connection State has changed checking"

// portDiscoveryAttempts and portDiscoveryInterval bound the
// background port-discovery retry loop: ~15s total (300 * 50ms), per
// spec.
const (
	portDiscoveryAttempts = 300
	portDiscoveryInterval = 50 * time.Millisecond
)

// Result is returned by Start on a successful negotiation.
type Result struct {
	Answer string
}

// PortLister is the subset of the audio-graph adapter the supervisor
// needs to discover an ingress child's ports once it has started.
type PortLister interface {
	ListPortsMatching(ctx context.Context, substr string) (map[int]string, error)
}

// Supervisor owns the lifecycle of exactly one ingress child process
// for one session.
type Supervisor struct {
	sessionID int64
	linkName  string
	binPath   string
	ports     PortLister

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	waitCh    chan error
	portMap   Ports
	startedAt time.Time

	// onPortsDiscovered is invoked once background port discovery
	// finds new ports, to trigger the auto-default sink connect.
	onPortsDiscovered func()
}

// New builds a Supervisor for sessionID, spawning binPath as the child
// and discovering ports through ports.
func New(sessionID int64, binPath string, ports PortLister, onPortsDiscovered func()) *Supervisor {
	return &Supervisor{
		sessionID:         sessionID,
		linkName:          fmt.Sprintf("ingress-%d", sessionID),
		binPath:           binPath,
		ports:             ports,
		onPortsDiscovered: onPortsDiscovered,
	}
}

// LinkName returns the stable label used to identify this ingress's
// audio ports, "ingress-<session_id>".
func (s *Supervisor) LinkName() string { return s.linkName }

// Start spawns the child, performs the SDP offer/answer handshake, and
// launches background port discovery. offer must not be empty.
func (s *Supervisor) Start(ctx context.Context, offer string) (Result, error) {
	if strings.TrimSpace(offer) == "" {
		return Result{}, errs.New(errs.InvalidInput, "offer must not be empty")
	}

	logger := corelog.FromContext(ctx).With().Int64("session_id", s.sessionID).Str("link_name", s.linkName).Logger()

	// Snapshot existing ports matching our link name before spawn, so
	// background discovery can tell new ports from stale ones.
	before, err := s.ports.ListPortsMatching(ctx, s.linkName)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to snapshot ports before ingress start; continuing")
		before = map[int]string{}
	}

	cmd := exec.Command(s.binPath, "--link-name", s.linkName)
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, errs.Wrap(errs.IngressFailed, "open child stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, errs.Wrap(errs.IngressFailed, "open child stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, errs.Wrap(errs.IngressFailed, "open child stderr", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, errs.Wrap(errs.IngressFailed, "spawn ingress child", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.startedAt = time.Now()
	s.waitCh = make(chan error, 1)
	s.mu.Unlock()

	go func() {
		s.waitCh <- cmd.Wait()
	}()

	go streamStderr(logger, stderr)

	payload := sdpPayload{SDP: offer, Type: "offer"}
	raw, err := json.Marshal(payload)
	if err != nil {
		_ = s.Stop(ctx)
		return Result{}, errs.Wrap(errs.IngressFailed, "marshal offer", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	if _, err := fmt.Fprintf(stdin, "%s\n", encoded); err != nil {
		_ = s.Stop(ctx)
		return Result{}, errs.Wrap(errs.IngressFailed, "write offer to child", err)
	}

	answer, err := readAnswer(stdout)
	if err != nil {
		_ = s.Stop(ctx)
		return Result{}, errs.Wrap(errs.IngressFailed, "read answer from child", err)
	}

	go s.discoverPorts(context.WithoutCancel(ctx), before)

	return Result{Answer: answer}, nil
}

// readAnswer implements the "after the marker appears, concatenate
// nonempty lines and try a base64-JSON decode" discipline the child
// uses to emit its answer, because its output may split the payload
// across multiple lines.
func readAnswer(stdout io.Reader) (string, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	markerSeen := false
	var accumulated strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !markerSeen {
			if strings.Contains(line, connectionStateMarker) {
				markerSeen = true
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		accumulated.WriteString(trimmed)

		decoded, err := base64.StdEncoding.DecodeString(accumulated.String())
		if err != nil {
			continue
		}
		var p sdpPayload
		if err := json.Unmarshal(decoded, &p); err != nil {
			continue
		}
		return p.SDP, nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("child output closed before a valid answer was decoded")
}

// streamStderr mirrors spec §4.2: the child's stderr is streamed to
// the server log verbatim.
func streamStderr(logger zerolog.Logger, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Info().Str("stream", "stderr").Msg(scanner.Text())
	}
}

// discoverPorts retries ListPortsMatching until ports new relative to
// before appear, classifies them by name suffix into FL/FR/OTHER, and
// invokes onPortsDiscovered once recorded. Its success is reported to
// the caller (Start returning) before this side effect lands — kept
// intentionally, per spec.
func (s *Supervisor) discoverPorts(ctx context.Context, before map[int]string) {
	for attempt := 0; attempt < portDiscoveryAttempts; attempt++ {
		current, err := s.ports.ListPortsMatching(ctx, s.linkName)
		if err == nil {
			newPorts := diffPorts(before, current)
			if len(newPorts) > 0 {
				s.mu.Lock()
				s.portMap = classifyPorts(newPorts)
				s.mu.Unlock()
				if s.onPortsDiscovered != nil {
					s.onPortsDiscovered()
				}
				return
			}
		}
		// A transient empty listing is not an error; keep retrying.
		time.Sleep(portDiscoveryInterval)
	}
}

func diffPorts(before, current map[int]string) map[int]string {
	newPorts := map[int]string{}
	for id, name := range current {
		if _, existed := before[id]; !existed {
			newPorts[id] = name
		}
	}
	return newPorts
}

func classifyPorts(ports map[int]string) Ports {
	result := Ports{}
	for id, name := range ports {
		ch := classifyChannel(name)
		result[ch] = append(result[ch], id)
	}
	return result
}

func classifyChannel(name string) Channel {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "_fl"), strings.HasSuffix(lower, ":fl"), strings.Contains(lower, "front_left"):
		return ChannelFL
	case strings.HasSuffix(lower, "_fr"), strings.HasSuffix(lower, ":fr"), strings.Contains(lower, "front_right"):
		return ChannelFR
	default:
		return ChannelOther
	}
}

// Ports returns a copy of the currently recorded port map.
func (s *Supervisor) Ports() Ports {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Ports{}
	for ch, ids := range s.portMap {
		out[ch] = append([]int(nil), ids...)
	}
	return out
}

// StartedAt returns when the child was spawned.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Stop terminates the child, escalating from terminate to kill, and
// clears recorded ports.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	waitCh := s.waitCh
	stdin := s.stdin
	s.portMap = nil
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || waitCh == nil {
		return nil
	}
	return procgroup.Terminate(cmd, waitCh, 3*time.Second)
}

// IsAlive reports whether the child is still running and at least one
// recorded port id still appears in a fresh listing per channel. A
// transient empty listing is treated as "still alive" to avoid racy
// flapping.
func (s *Supervisor) IsAlive(ctx context.Context) bool {
	s.mu.Lock()
	cmd := s.cmd
	portMap := s.portMap
	s.mu.Unlock()

	if cmd == nil || cmd.ProcessState != nil {
		return false
	}

	if len(portMap) == 0 {
		// Discovery may still be in flight; don't declare dead yet.
		return true
	}

	current, err := s.ports.ListPortsMatching(ctx, s.linkName)
	if err != nil || len(current) == 0 {
		return true
	}

	for _, ids := range portMap {
		found := false
		for _, id := range ids {
			if _, ok := current[id]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
