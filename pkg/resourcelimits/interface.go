package resourcelimits

import (
	"time"
)

// ResourceUsage is one memory sample of a process tree
type ResourceUsage struct {
	Timestamp    time.Time `json:"timestamp"`
	PID          int       `json:"pid"`
	MemoryRSS    int64     `json:"memory_rss"`    // Resident bytes of the process and its descendants
	ProcessCount int       `json:"process_count"` // Processes included in MemoryRSS
}

// ResourceViolation reports a sample at or above the memory cap
type ResourceViolation struct {
	PID          int       `json:"pid"`
	CurrentValue int64     `json:"current_value"`
	LimitValue   int64     `json:"limit_value"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
}

type ResourceUsageCallback func(usage *ResourceUsage)
type ResourceViolationCallback func(violation *ResourceViolation)

// PlatformResourceMonitor reads resource usage from the OS
type PlatformResourceMonitor interface {
	GetProcessUsage(pid int) (*ResourceUsage, error)
	SupportsRealTimeMonitoring() bool
}
