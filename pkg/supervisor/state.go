package supervisor

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-procman/pkg/restartpolicy"
)

// ProcessState is the lifecycle state of one process handle
type ProcessState string

const (
	StateStarting ProcessState = "starting" // Spawning, or waiting for a scheduled restart
	StateRunning  ProcessState = "running"
	StateStopping ProcessState = "stopping" // Termination in progress
	StateStopped  ProcessState = "stopped"
	StateErrored  ProcessState = "errored" // Needs operator action
)

// IsActive reports whether a process exists or is about to
func (s ProcessState) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// IsTerminal reports whether the handle rests until an operator acts
func (s ProcessState) IsTerminal() bool {
	return s == StateStopped || s == StateErrored
}

// Snapshot is a read-only copy of a process handle
type Snapshot struct {
	Name     string `json:"name"`
	Instance int    `json:"instance"`
	ID       string `json:"id"`

	State ProcessState `json:"state"`
	PID   int          `json:"pid,omitempty"`
	RunID string       `json:"run_id,omitempty"`

	StartedAt          time.Time `json:"started_at,omitempty"`
	RestartScheduledAt time.Time `json:"restart_scheduled_at,omitempty"`

	// RestartCount counts consecutive crash-loop restarts and drives the
	// max_restarts ceiling. TotalRestarts counts every restart.
	RestartCount  int `json:"restart_count"`
	TotalRestarts int `json:"total_restarts"`

	LastExitCode *int                 `json:"last_exit_code,omitempty"`
	LastReason   restartpolicy.Reason `json:"last_reason,omitempty"`
	LastError    string               `json:"last_error,omitempty"`

	MemoryRSS int64 `json:"memory_rss"`
}

// Uptime is how long the current process has been running, zero otherwise
func (s Snapshot) Uptime(now time.Time) time.Duration {
	if s.State != StateRunning || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s[%s] pid=%d restarts=%d", s.ID, s.State, s.PID, s.TotalRestarts)
}

func handleID(name string, instance int) string {
	return fmt.Sprintf("%s-%d", name, instance)
}
