package domain

import (
	"context"
	"time"
)

// Contract is the operator interface of the supervisor. It is implemented
// in-process by the supervisor and remotely by the control plane client.
type Contract interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	Reload(ctx context.Context) error
	Status(ctx context.Context) ([]ProcessStatus, error)
}

// ProcessStatus is the transport-neutral view of one process handle
type ProcessStatus struct {
	Name     string `json:"name"`
	Instance int    `json:"instance"`
	ID       string `json:"id"`
	State    string `json:"state"`
	PID      int    `json:"pid"`

	Uptime             time.Duration `json:"uptime"`
	RestartScheduledAt time.Time     `json:"restart_scheduled_at"`

	RestartCount  int    `json:"restart_count"`
	TotalRestarts int    `json:"total_restarts"`
	LastExitCode  *int   `json:"last_exit_code,omitempty"`
	LastReason    string `json:"last_reason,omitempty"`
	LastError     string `json:"last_error,omitempty"`

	MemoryRSS int64 `json:"memory_rss"`
}
