package restartpolicy

import (
	"testing"
	"time"

	"github.com/core-tools/hsu-procman/pkg/descriptor"

	"github.com/stretchr/testify/assert"
)

func backendDescriptor() *descriptor.ProcessDescriptor {
	return &descriptor.ProcessDescriptor{
		Name:           "backend",
		MaxMemoryBytes: 1_073_741_824,
		RestartDelay:   4000 * time.Millisecond,
		MinUptime:      10000 * time.Millisecond,
		Autorestart:    true,
		MaxRestarts:    descriptor.DefaultMaxRestarts,
	}
}

func crashAfter(uptime time.Duration) (HandleState, ExitEvent) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return HandleState{StartedAt: started}, ExitEvent{ExitCode: 1, ExitedAt: started.Add(uptime)}
}

func TestDecide_CrashAfterMinUptime(t *testing.T) {
	handle, exit := crashAfter(15 * time.Second)
	handle.RestartCount = 7

	decision := Decide(backendDescriptor(), handle, exit)

	assert.True(t, decision.ShouldRestart)
	assert.Equal(t, int64(4000), decision.DelayMs())
	assert.Equal(t, ReasonCrashAfterMinUptime, decision.Reason)
	assert.True(t, decision.ResetRestartCount)
}

func TestDecide_CrashBeforeMinUptime(t *testing.T) {
	desc := backendDescriptor()

	tests := []struct {
		name          string
		restartCount  int
		shouldRestart bool
		reason        Reason
	}{
		{"first crash", 0, true, ReasonCrashBeforeMinUptime},
		{"below ceiling", desc.MaxRestarts - 1, true, ReasonCrashBeforeMinUptime},
		{"at ceiling", desc.MaxRestarts, false, ReasonMaxRetriesExceeded},
		{"above ceiling", desc.MaxRestarts + 3, false, ReasonMaxRetriesExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handle, exit := crashAfter(3 * time.Second)
			handle.RestartCount = tt.restartCount

			decision := Decide(desc, handle, exit)

			assert.Equal(t, tt.shouldRestart, decision.ShouldRestart)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.False(t, decision.ResetRestartCount)
			if tt.shouldRestart {
				assert.Equal(t, 4*time.Second, decision.Delay)
			}
		})
	}
}

func TestDecide_AutorestartDisabled(t *testing.T) {
	desc := backendDescriptor()
	desc.Autorestart = false

	for _, uptime := range []time.Duration{time.Second, 15 * time.Second, time.Hour} {
		handle, exit := crashAfter(uptime)
		decision := Decide(desc, handle, exit)

		assert.False(t, decision.ShouldRestart, "uptime %v", uptime)
		assert.NotEqual(t, ReasonManualStop, decision.Reason)
	}

	handle, exit := crashAfter(time.Second)
	assert.Equal(t, ReasonCrashBeforeMinUptime, Decide(desc, handle, exit).Reason)
	handle, exit = crashAfter(time.Minute)
	assert.Equal(t, ReasonCrashAfterMinUptime, Decide(desc, handle, exit).Reason)
}

func TestDecide_MemoryExceededAlwaysRestarts(t *testing.T) {
	tests := []struct {
		name         string
		autorestart  bool
		uptime       time.Duration
		restartCount int
		memory       int64
	}{
		{"at cap", true, time.Minute, 0, 1_073_741_824},
		{"above cap", true, time.Minute, 0, 2_000_000_000},
		{"autorestart disabled", false, time.Minute, 0, 1_073_741_824},
		{"crash looping past ceiling", true, time.Second, 100, 1_500_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := backendDescriptor()
			desc.Autorestart = tt.autorestart
			handle, exit := crashAfter(tt.uptime)
			handle.RestartCount = tt.restartCount
			exit.ResidentMemoryBytes = tt.memory

			decision := Decide(desc, handle, exit)

			assert.True(t, decision.ShouldRestart)
			assert.Equal(t, ReasonMemoryExceeded, decision.Reason)
			assert.Equal(t, desc.RestartDelay, decision.Delay)
		})
	}
}

func TestDecide_MemoryBelowCapFollowsCrashRules(t *testing.T) {
	handle, exit := crashAfter(15 * time.Second)
	exit.ResidentMemoryBytes = 1_073_741_823

	decision := Decide(backendDescriptor(), handle, exit)
	assert.Equal(t, ReasonCrashAfterMinUptime, decision.Reason)
}

func TestDecide_NoMemoryLimitIgnoresReading(t *testing.T) {
	desc := backendDescriptor()
	desc.MaxMemoryBytes = 0
	desc.Autorestart = false
	handle, exit := crashAfter(15 * time.Second)
	exit.ResidentMemoryBytes = 10_000_000_000

	decision := Decide(desc, handle, exit)
	assert.False(t, decision.ShouldRestart)
}

func TestDecide_ManualStopWins(t *testing.T) {
	handle, exit := crashAfter(15 * time.Second)
	exit.ManualStop = true
	exit.ResidentMemoryBytes = 5_000_000_000

	decision := Decide(backendDescriptor(), handle, exit)

	assert.False(t, decision.ShouldRestart)
	assert.Equal(t, ReasonManualStop, decision.Reason)
}

func TestDecide_ExponentialBackoffInCrashLoop(t *testing.T) {
	desc := backendDescriptor()
	desc.ExpBackoffRestartDelay = 100 * time.Millisecond

	expected := []time.Duration{
		100 * time.Millisecond,
		150 * time.Millisecond,
		225 * time.Millisecond,
	}
	for count, want := range expected {
		handle, exit := crashAfter(time.Second)
		handle.RestartCount = count
		assert.Equal(t, want, Decide(desc, handle, exit).Delay, "restart count %d", count)
	}

	handle, exit := crashAfter(time.Minute)
	handle.RestartCount = 5
	assert.Equal(t, desc.RestartDelay, Decide(desc, handle, exit).Delay)
}

func TestBackoffDelay_Capped(t *testing.T) {
	assert.Equal(t, MaxBackoffDelay, BackoffDelay(time.Second, 50))
	assert.Equal(t, time.Second, BackoffDelay(time.Second, -1))
}

func TestUptime_Unknown(t *testing.T) {
	assert.Equal(t, time.Duration(0), Uptime(HandleState{}, ExitEvent{ExitedAt: time.Now()}))

	now := time.Now()
	assert.Equal(t, time.Duration(0), Uptime(HandleState{StartedAt: now}, ExitEvent{ExitedAt: now.Add(-time.Second)}))
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "restart in 4s (crash_after_min_uptime)", Decision{ShouldRestart: true, Delay: 4 * time.Second, Reason: ReasonCrashAfterMinUptime}.String())
	assert.Equal(t, "no restart (manual_stop)", Decision{Reason: ReasonManualStop}.String())
}
