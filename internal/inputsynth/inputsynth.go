// Package inputsynth wraps xdotool to synthesize keyboard input into
// the UltraStar window. Grounded directly on
// original_source/server.py's run_xdotool_command: resolve the
// window id once via "xdotool search UltraStar", cache it, and prefix
// every subsequent call with "--window <id>". Process execution
// follows the teacher's one-shot procgroup.RunOneShot helper rather
// than a bare os/exec call.
package inputsynth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgruss/karaoked/internal/procgroup"
	"github.com/rs/zerolog"
)

// Synthesizer is the input-synthesis surface the control lock needs.
type Synthesizer interface {
	Key(name string) error
	Type(text string) error
}

// Tool wraps xdotool, caching the target window id after first
// discovery.
type Tool struct {
	bin     string
	logger  zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	windowID string
	searched bool
}

// New builds a Tool. bin is usually "xdotool".
func New(bin string, logger zerolog.Logger) *Tool {
	return &Tool{bin: bin, logger: logger, timeout: 2 * time.Second}
}

func (t *Tool) resolveWindow(ctx context.Context) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.searched {
		return t.windowID
	}
	t.searched = true

	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, _, err := procgroup.RunOneShot(sctx, t.bin, "search", "UltraStar")
	if err != nil {
		t.logger.Warn().Err(err).Msg("xdotool search UltraStar failed")
		return ""
	}
	id := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if id == "" {
		t.logger.Warn().Msg("no UltraStar window found via xdotool search")
		return ""
	}
	t.windowID = id
	return id
}

func (t *Tool) run(ctx context.Context, args ...string) error {
	windowID := t.resolveWindow(ctx)
	if windowID == "" {
		return fmt.Errorf("inputsynth: no UltraStar window available")
	}

	full := append([]string{args[0], "--window", windowID}, args[1:]...)
	sctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, stderr, err := procgroup.RunOneShot(sctx, t.bin, full...)
	if err != nil {
		t.logger.Warn().Err(err).Str("stderr", stderr).Strs("args", full).Msg("xdotool command failed")
		return err
	}
	return nil
}

// Key sends a symbolic key name (e.g. "Escape", "BackSpace").
func (t *Tool) Key(name string) error {
	return t.run(context.Background(), "key", name)
}

// Type types literal text with no inter-key delay.
func (t *Tool) Type(text string) error {
	return t.run(context.Background(), "type", "--delay", "0", text)
}
