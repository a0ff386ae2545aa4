//go:build linux || darwin

package supervisor

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup makes the child the leader of a new process group so
// the whole tree (scrcpy spawns adb children) can be signaled at once.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalProcessGroup delivers sig to the child's process group. A missing
// group means the process already exited, which is benign.
func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
