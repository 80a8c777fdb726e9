//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setupProcessAttributes puts the child in its own process group so that a
// Ctrl+Break event reaches it without hitting the supervisor
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

func sendTerminationSignal(p *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}

func sendKillSignal(p *os.Process) error {
	return p.Kill()
}

// KillProcessTree kills pid. It is meant for processes this daemon no longer
// holds a handle to.
func KillProcessTree(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	defer p.Release()
	return p.Kill()
}
