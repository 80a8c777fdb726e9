package main

import (
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-procman/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRow(t *testing.T) {
	now := time.Now()
	code := 1

	row := statusRow(domain.ProcessStatus{
		ID: "api-0", Name: "api", State: "running", PID: 4242,
		Uptime: 2 * time.Hour, RestartCount: 1, TotalRestarts: 3,
		MemoryRSS: 64 << 20, LastExitCode: &code, LastReason: "crash_after_min_uptime",
	}, now)
	assert.Equal(t, []string{"api-0", "api", "running", "4242", "2 hours", "1/3", "64MiB", "1", "crash_after_min_uptime"}, row)

	row = statusRow(domain.ProcessStatus{
		ID: "job-0", Name: "job", State: "starting",
		RestartScheduledAt: now.Add(1500 * time.Millisecond),
	}, now)
	assert.Equal(t, "-", row[3])
	assert.Equal(t, "restart in 1.5s", row[4])
	assert.Equal(t, "-", row[6])
	assert.Equal(t, "-", row[7])
	assert.Equal(t, "-", row[8])
}

func TestRenderStatus(t *testing.T) {
	out := renderStatus([]domain.ProcessStatus{
		{ID: "api-0", Name: "api", State: "running", PID: 10},
		{ID: "flaky-0", Name: "flaky", State: "errored", LastError: "policy_exhausted: process crashed 16 times"},
	}, time.Now())

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "STATE")
	assert.Contains(t, lines[1], "api-0")
	assert.Contains(t, lines[2], "errored")
	assert.Contains(t, lines[3], "flaky-0: policy_exhausted")
}

func TestRenderStatus_Empty(t *testing.T) {
	assert.Contains(t, renderStatus(nil, time.Now()), "no processes")
}
