package process

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

// KillWaitTimeout bounds the wait for a process to disappear after SIGKILL
var KillWaitTimeout = 5 * time.Second

// Terminate asks p to stop, waits up to grace and then force-kills it. A
// forced kill returns a ShutdownTimeout error once the process is gone; the
// caller decides whether that is worth more than a warning. A cancelled ctx
// skips the rest of the grace period.
func Terminate(ctx context.Context, p Process, grace time.Duration, id string, logger logging.Logger) error {
	select {
	case <-p.Done():
		return nil
	default:
	}

	logger.Infof("Sending termination signal, id: %s, PID: %d, grace: %v", id, p.Pid(), grace)
	if err := p.Terminate(); err != nil {
		logger.Warnf("Failed to send termination signal, id: %s, PID: %d, error: %v", id, p.Pid(), err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.Done():
		logger.Infof("Process stopped gracefully, id: %s, PID: %d", id, p.Pid())
		return nil
	case <-timer.C:
		logger.Warnf("Graceful stop timed out, killing, id: %s, PID: %d, grace: %v", id, p.Pid(), grace)
	case <-ctx.Done():
		logger.Warnf("Stop cancelled, killing, id: %s, PID: %d", id, p.Pid())
	}

	if err := p.Kill(); err != nil {
		logger.Errorf("Failed to kill process, id: %s, PID: %d, error: %v", id, p.Pid(), err)
	}

	select {
	case <-p.Done():
	case <-time.After(KillWaitTimeout):
		return errors.NewTimeoutError("process did not exit after kill", nil).WithContext("id", id).WithContext("pid", p.Pid())
	}

	return errors.NewShutdownTimeoutError(fmt.Sprintf("graceful stop exceeded %v, process force-killed", grace), nil).
		WithContext("id", id).
		WithContext("pid", p.Pid())
}
