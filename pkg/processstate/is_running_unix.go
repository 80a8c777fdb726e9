//go:build !windows

package processstate

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// IsProcessRunning probes pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	err := unix.Kill(pid, 0)
	switch err {
	case nil, unix.EPERM:
		return true, nil
	case unix.ESRCH:
		return false, nil
	}
	return false, err
}
