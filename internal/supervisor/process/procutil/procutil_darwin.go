//go:build darwin

package procutil

import (
	"os/exec"
	"syscall"
)

// Prepare configures cmd so its own process group is created. macOS has no
// Linux-style Pdeathsig; there is no reliable in-process fix for an orphaned
// child if the supervisor itself is killed ungracefully.
func Prepare(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Interrupt sends SIGINT to cmd's process group.
func Interrupt(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGINT)
}

// Kill sends SIGKILL to cmd's process group.
func Kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return cmd.Process.Signal(sig)
	}
	return nil
}
