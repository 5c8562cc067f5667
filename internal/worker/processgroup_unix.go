//go:build !windows

package worker

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so that
// killProcessTree can terminate any subprocesses it spawned too.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree force-kills the child's entire process group, grounded
// on slimsag-http-server-stabilizer's syscall.Getpgid/Kill subtree
// termination (adapted here to golang.org/x/sys/unix, already part of
// this module's dependency surface via the teacher's indirect require).
func killProcessTree(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	if pgid, err := unix.Getpgid(pid); err == nil {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	return cmd.Process.Kill()
}
