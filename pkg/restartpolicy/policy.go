package restartpolicy

import (
	"fmt"
	"math"
	"time"

	"github.com/core-tools/hsu-procman/pkg/descriptor"
)

// Reason explains a restart decision
type Reason string

const (
	ReasonCrashBeforeMinUptime Reason = "crash_before_min_uptime"
	ReasonCrashAfterMinUptime  Reason = "crash_after_min_uptime"
	ReasonMemoryExceeded       Reason = "memory_exceeded"
	ReasonManualStop           Reason = "manual_stop"
	ReasonMaxRetriesExceeded   Reason = "max_retries_exceeded"
)

const (
	// BackoffMultiplier grows the exponential restart delay per consecutive crash
	BackoffMultiplier = 1.5
	// MaxBackoffDelay caps the exponential restart delay
	MaxBackoffDelay = 15 * time.Second
)

// HandleState is the part of a process handle the policy looks at
type HandleState struct {
	StartedAt    time.Time
	RestartCount int
}

// ExitEvent describes how a process ended
type ExitEvent struct {
	ExitCode            int
	Signaled            bool
	ExitedAt            time.Time
	ResidentMemoryBytes int64 // Last sampled RSS, 0 when unknown
	ManualStop          bool  // An operator asked for the stop
}

// Decision is produced fresh for every exit event and never stored
type Decision struct {
	ShouldRestart     bool
	Delay             time.Duration
	Reason            Reason
	ResetRestartCount bool
}

// DelayMs returns the delay in milliseconds
func (d Decision) DelayMs() int64 {
	return d.Delay.Milliseconds()
}

func (d Decision) String() string {
	if !d.ShouldRestart {
		return fmt.Sprintf("no restart (%s)", d.Reason)
	}
	return fmt.Sprintf("restart in %v (%s)", d.Delay, d.Reason)
}

// Decide evaluates the restart rules in order:
//
//  1. a manual stop never restarts
//  2. memory at or above the cap always restarts, autorestart notwithstanding
//  3. autorestart=false never restarts; the reason only records the uptime class
//  4. a crash before min uptime restarts while the crash-loop ceiling allows it
//  5. a crash after min uptime restarts and resets the restart count
func Decide(desc *descriptor.ProcessDescriptor, handle HandleState, exit ExitEvent) Decision {
	if exit.ManualStop {
		return Decision{ShouldRestart: false, Reason: ReasonManualStop}
	}

	if desc.HasMemoryLimit() && exit.ResidentMemoryBytes >= desc.MaxMemoryBytes {
		return Decision{ShouldRestart: true, Delay: desc.RestartDelay, Reason: ReasonMemoryExceeded}
	}

	uptime := Uptime(handle, exit)
	crashLooping := uptime < desc.MinUptime

	if !desc.Autorestart {
		reason := ReasonCrashAfterMinUptime
		if crashLooping {
			reason = ReasonCrashBeforeMinUptime
		}
		return Decision{ShouldRestart: false, Reason: reason}
	}

	if crashLooping {
		if handle.RestartCount >= desc.MaxRestarts {
			return Decision{ShouldRestart: false, Reason: ReasonMaxRetriesExceeded}
		}
		return Decision{
			ShouldRestart: true,
			Delay:         crashLoopDelay(desc, handle.RestartCount),
			Reason:        ReasonCrashBeforeMinUptime,
		}
	}

	return Decision{
		ShouldRestart:     true,
		Delay:             desc.RestartDelay,
		Reason:            ReasonCrashAfterMinUptime,
		ResetRestartCount: true,
	}
}

// Uptime is the time between start and exit, zero if either is unknown
func Uptime(handle HandleState, exit ExitEvent) time.Duration {
	if handle.StartedAt.IsZero() || exit.ExitedAt.IsZero() {
		return 0
	}
	uptime := exit.ExitedAt.Sub(handle.StartedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func crashLoopDelay(desc *descriptor.ProcessDescriptor, restartCount int) time.Duration {
	if desc.ExpBackoffRestartDelay <= 0 {
		return desc.RestartDelay
	}
	return BackoffDelay(desc.ExpBackoffRestartDelay, restartCount)
}

// BackoffDelay returns initial * 1.5^attempts, capped at MaxBackoffDelay
func BackoffDelay(initial time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := float64(initial) * math.Pow(BackoffMultiplier, float64(attempts))
	if delay > float64(MaxBackoffDelay) {
		return MaxBackoffDelay
	}
	return time.Duration(delay)
}
