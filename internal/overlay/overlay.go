// Package overlay spawns and supervises the fullscreen countdown
// display shown during automation countdowns. Grounded on
// xg2g/internal/procgroup's child-process lifecycle (spawn, terminate
// gracefully with a kill escalation), applied to a single
// long-or-short-lived display process instead of a transcoder.
package overlay

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/dgruss/karaoked/internal/procgroup"
	"github.com/rs/zerolog"
)

// Runner spawns the external countdown overlay binary.
type Runner struct {
	scriptPath string
	logger     zerolog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// New builds a Runner that launches scriptPath.
func New(scriptPath string, logger zerolog.Logger) *Runner {
	return &Runner{scriptPath: scriptPath, logger: logger}
}

// Show starts (or restarts) the overlay showing a countdown of
// seconds. It blocks until the overlay process exits, so callers run
// it in its own goroutine.
func (r *Runner) Show(ctx context.Context, seconds int) error {
	if r.scriptPath == "" {
		return nil
	}
	if err := r.Stop(); err != nil {
		r.logger.Warn().Err(err).Msg("overlay: stopping previous instance failed")
	}

	cmd := exec.CommandContext(ctx, r.scriptPath, strconv.Itoa(seconds))
	procgroup.Set(cmd)

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("overlay: start: %w", err)
	}
	err := cmd.Wait()

	r.mu.Lock()
	if r.cmd == cmd {
		r.cmd = nil
	}
	r.mu.Unlock()

	return err
}

// Stop terminates any running overlay process.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cmd := r.cmd
	r.cmd = nil
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return procgroup.KillGroup(cmd.Process.Pid, 2*time.Second, 5*time.Second)
}
