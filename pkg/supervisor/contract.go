package supervisor

import (
	"context"
	"time"

	"github.com/core-tools/hsu-procman/pkg/domain"
)

// contractHandler exposes a Supervisor as a domain.Contract
type contractHandler struct {
	supervisor *Supervisor
}

func NewContractHandler(s *Supervisor) domain.Contract {
	return &contractHandler{supervisor: s}
}

func (c *contractHandler) Start(ctx context.Context, name string) error {
	return c.supervisor.Start(ctx, name)
}

func (c *contractHandler) Stop(ctx context.Context, name string) error {
	return c.supervisor.Stop(ctx, name)
}

func (c *contractHandler) Restart(ctx context.Context, name string) error {
	return c.supervisor.Restart(ctx, name)
}

func (c *contractHandler) Reload(ctx context.Context) error {
	return c.supervisor.Reload(ctx)
}

func (c *contractHandler) Status(ctx context.Context) ([]domain.ProcessStatus, error) {
	now := time.Now()
	snapshots := c.supervisor.Status()
	statuses := make([]domain.ProcessStatus, 0, len(snapshots))
	for _, s := range snapshots {
		statuses = append(statuses, ToProcessStatus(s, now))
	}
	return statuses, nil
}

func ToProcessStatus(s Snapshot, now time.Time) domain.ProcessStatus {
	return domain.ProcessStatus{
		Name:               s.Name,
		Instance:           s.Instance,
		ID:                 s.ID,
		State:              string(s.State),
		PID:                s.PID,
		Uptime:             s.Uptime(now),
		RestartScheduledAt: s.RestartScheduledAt,
		RestartCount:       s.RestartCount,
		TotalRestarts:      s.TotalRestarts,
		LastExitCode:       s.LastExitCode,
		LastReason:         string(s.LastReason),
		LastError:          s.LastError,
		MemoryRSS:          s.MemoryRSS,
	}
}
