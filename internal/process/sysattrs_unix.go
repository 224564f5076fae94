//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so the
// whole tree it spawns can be signalled through -pid.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends SIGTERM (or SIGKILL when forced) to the process group.
// ESRCH means the group is already gone and is not an error.
func signalGroup(pid int, forced bool) error {
	if pid <= 0 {
		return nil
	}
	sig := syscall.SIGTERM
	if forced {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
