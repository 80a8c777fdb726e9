//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessAttributes starts the child in a new process group so the whole
// tree can be signalled through -pid
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// sendTerminationSignal sends SIGTERM to the process group
func sendTerminationSignal(p *os.Process) error {
	return signalGroup(p.Pid, unix.SIGTERM)
}

// sendKillSignal sends SIGKILL to the process group
func sendKillSignal(p *os.Process) error {
	return signalGroup(p.Pid, unix.SIGKILL)
}

// KillProcessTree sends SIGKILL to pid and its process group. It is meant for
// processes this daemon no longer holds a handle to.
func KillProcessTree(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == unix.ESRCH {
		// Group already gone, the leader may still need a direct signal
		err = unix.Kill(pid, sig)
		if err == unix.ESRCH {
			return nil
		}
	}
	return err
}
