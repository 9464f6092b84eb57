package procgroup

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
)

// RunOneShot runs a short-lived external command in its own process
// group, waits for it to finish, and returns its stdout and stderr
// separately. Used for the audio-graph adapter's pw-link/pactl invocations
// and the input synthesizer's xdotool invocations: commands expected to
// exit on their own, but still isolated in a process group so a
// runaway child does not escape ctx cancellation.
func RunOneShot(ctx context.Context, name string, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, name, args...)
	Set(cmd)
	cmd.Cancel = func() error { return Kill(cmd, syscall.SIGKILL) }

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}
