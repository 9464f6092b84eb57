// Package procgroup supervises child processes spawned by karaoked: the
// audio-ingress child, the countdown overlay, and one-shot CLI tool
// invocations (audio-graph adapter, input synthesizer). Every child is
// started in its own process group so Kill/Terminate can reach any
// grandchildren the child itself spawns.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures cmd to start in a new process group. Must be called
// before cmd.Start for KillGroup/Terminate to reach the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates the process group rooted at pid, escalating from
// SIGTERM to SIGKILL if it does not exit within grace.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}

// Terminate gracefully stops cmd's process group: SIGTERM, wait up to
// grace on waitCh, then SIGKILL and drain waitCh. Safe to call on a nil
// or already-exited command. waitCh must deliver the result of
// cmd.Wait() run in a separate goroutine by the caller.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := Kill(cmd, syscall.SIGTERM); err != nil && !errors.Is(err, ErrProcessNotFound) {
		// best-effort; fall through to wait regardless
		_ = err
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = Kill(cmd, syscall.SIGKILL)
		select {
		case err := <-waitCh:
			return err
		case <-time.After(grace):
			return ErrKillFailed
		}
	}
}
