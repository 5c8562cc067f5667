//go:build windows

package worker

import "os/exec"

// setProcessGroup is a no-op on Windows; process groups as used on
// Unix don't apply the same way.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessTree falls back to killing just the direct child process —
// Windows job objects would be the subtree-aware equivalent, out of scope
// here.
func killProcessTree(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
