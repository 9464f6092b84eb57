//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

func set(cmd *exec.Cmd) {
	// No process-group support needed for the Windows dev/test path.
}

// Kill maps SIGKILL to Process.Kill; other signals are no-ops since
// Windows has no equivalent graceful-termination signal.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}

func killGroup(pid int, grace, timeout time.Duration) error {
	return nil
}
