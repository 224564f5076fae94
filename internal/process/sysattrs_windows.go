//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {}

// signalGroup has no group semantics on Windows; both modes kill the leaf process.
func signalGroup(pid int, forced bool) error {
	if pid <= 0 {
		return nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
