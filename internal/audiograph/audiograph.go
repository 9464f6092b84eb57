// Package audiograph is a narrow facade over the external PipeWire
// tooling (pw-link, pactl) that the karaoke session controller uses to
// create virtual sinks and wire ingress ports into them. Grounded on
// original_source/webrtc_microphone.py's shell-out-to-pw-link/pactl
// style, translated into a typed adapter.
package audiograph

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgruss/karaoked/internal/errs"
	"github.com/dgruss/karaoked/internal/metrics"
	"github.com/dgruss/karaoked/internal/procgroup"
)

// Adapter wraps the pw-link/pactl CLIs. The zero value is not usable;
// construct with New.
type Adapter struct {
	pwLinkBin string
	pactlBin  string
}

// New builds an Adapter bound to the given CLI binaries.
func New(pwLinkBin, pactlBin string) *Adapter {
	return &Adapter{pwLinkBin: pwLinkBin, pactlBin: pactlBin}
}

func (a *Adapter) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failure"
	}
	metrics.AudioGraphOpsTotal.WithLabelValues(op, outcome).Inc()
}

// EnsureSinks creates a stereo virtual source-class null sink for each
// name not already present. Idempotent: existing sinks are left alone.
func (a *Adapter) EnsureSinks(ctx context.Context, names []string) (err error) {
	defer func() { a.record("ensure_sinks", err) }()

	existing, err := a.listSinks(ctx)
	if err != nil {
		return errs.Wrap(errs.AudioGraphError, "list sinks", err)
	}

	for _, name := range names {
		if existing[name] {
			continue
		}
		_, stderr, runErr := procgroup.RunOneShot(ctx, a.pactlBin,
			"load-module", "module-null-sink",
			"media.class=Audio/Source/Virtual",
			fmt.Sprintf("sink_name=%s", name),
			"channel_map=front-left,front-right",
		)
		if runErr != nil {
			return errs.Wrap(errs.AudioGraphError, fmt.Sprintf("create sink %s: %s", name, strings.TrimSpace(stderr)), runErr)
		}
	}
	return nil
}

func (a *Adapter) listSinks(ctx context.Context) (map[string]bool, error) {
	out, _, err := procgroup.RunOneShot(ctx, a.pactlBin, "list", "short", "sinks")
	if err != nil {
		return nil, err
	}
	sinks := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		sinks[fields[1]] = true
	}
	return sinks, nil
}

// UnloadAllNullSinks removes every currently loaded null-sink module.
// Run at startup to clear leftovers from a previous, uncleanly stopped
// run.
func (a *Adapter) UnloadAllNullSinks(ctx context.Context) (err error) {
	defer func() { a.record("unload_all_null_sinks", err) }()

	out, _, err := procgroup.RunOneShot(ctx, a.pactlBin, "list", "short", "modules")
	if err != nil {
		return errs.Wrap(errs.AudioGraphError, "list modules", err)
	}

	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "module-null-sink") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if _, _, unloadErr := procgroup.RunOneShot(ctx, a.pactlBin, "unload-module", fields[0]); unloadErr != nil {
			return errs.Wrap(errs.AudioGraphError, "unload module "+fields[0], unloadErr)
		}
	}
	return nil
}

// ListPortsMatching returns a port-id -> port-name map for output
// ports whose name contains substr, case-insensitively.
func (a *Adapter) ListPortsMatching(ctx context.Context, substr string) (map[int]string, error) {
	out, _, err := procgroup.RunOneShot(ctx, a.pwLinkBin, "-I", "-o")
	if err != nil {
		result, recordErr := map[int]string{}, errs.Wrap(errs.AudioGraphError, "list ports", err)
		a.record("list_ports", recordErr)
		return result, recordErr
	}
	a.record("list_ports", nil)

	needle := strings.ToLower(substr)
	ports := map[int]string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, name, ok := parsePwLinkLine(line)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(name), needle) {
			ports[id] = name
		}
	}
	return ports, nil
}

// parsePwLinkLine parses a `pw-link -I -o` line of the form
// "<id> <name>" into its numeric id and name.
func parsePwLinkLine(line string) (int, string, bool) {
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		return 0, "", false
	}
	id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, "", false
	}
	return id, strings.TrimSpace(fields[1]), true
}

// Link creates a connection from sourcePortID to
// <targetSinkName>:input_<channel>, waiting synchronously for the
// target port to be ready (pw-link -w).
func (a *Adapter) Link(ctx context.Context, sourcePortID int, targetSinkName, channel string) (err error) {
	defer func() { a.record("link", err) }()

	target := fmt.Sprintf("%s:input_%s", targetSinkName, channel)
	_, stderr, runErr := procgroup.RunOneShot(ctx, a.pwLinkBin, "-w", strconv.Itoa(sourcePortID), target)
	if runErr != nil {
		return errs.Wrap(errs.AudioGraphError, fmt.Sprintf("link %d -> %s: %s", sourcePortID, target, strings.TrimSpace(stderr)), runErr)
	}
	return nil
}

// LinkByName creates a connection by port name instead of numeric id,
// used as a fallback when numeric ports are unavailable.
func (a *Adapter) LinkByName(ctx context.Context, sourcePortName, targetSinkName, channel string) (err error) {
	defer func() { a.record("link_by_name", err) }()

	target := fmt.Sprintf("%s:input_%s", targetSinkName, channel)
	_, stderr, runErr := procgroup.RunOneShot(ctx, a.pwLinkBin, "-w", sourcePortName, target)
	if runErr != nil {
		return errs.Wrap(errs.AudioGraphError, fmt.Sprintf("link %s -> %s: %s", sourcePortName, target, strings.TrimSpace(stderr)), runErr)
	}
	return nil
}

// Unlink removes every connection currently attached to portID.
func (a *Adapter) Unlink(ctx context.Context, portID int) (err error) {
	defer func() { a.record("unlink", err) }()

	_, stderr, runErr := procgroup.RunOneShot(ctx, a.pwLinkBin, "-d", strconv.Itoa(portID))
	if runErr != nil {
		return errs.Wrap(errs.AudioGraphError, fmt.Sprintf("unlink %d: %s", portID, strings.TrimSpace(stderr)), runErr)
	}
	return nil
}

// ListLinks returns the raw `pw-link -I -l` listing, used by the
// ingress manager to discover peer ports joined to a given output port
// before unlinking them.
func (a *Adapter) ListLinks(ctx context.Context) (string, error) {
	out, _, err := procgroup.RunOneShot(ctx, a.pwLinkBin, "-I", "-l")
	if err != nil {
		return "", errs.Wrap(errs.AudioGraphError, "list links", err)
	}
	return out, nil
}
