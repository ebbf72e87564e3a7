//go:build !windows

package proc

import (
	"os/exec"
	"syscall"
)

// setProcGroup puts the child in its own process group so the whole tree
// can be signalled at once.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the process group rooted at pid, falling back to the
// single process when the group signal fails.
func killTree(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
