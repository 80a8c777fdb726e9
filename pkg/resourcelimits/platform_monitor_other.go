//go:build !linux

package resourcelimits

import (
	"runtime"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

type unsupportedResourceMonitor struct {
	logger logging.Logger
}

// NewPlatformResourceMonitor returns a monitor that reports memory sampling as
// unsupported; max_memory_restart is not enforced on this platform.
func NewPlatformResourceMonitor(logger logging.Logger) PlatformResourceMonitor {
	return &unsupportedResourceMonitor{logger: logger}
}

func (u *unsupportedResourceMonitor) GetProcessUsage(pid int) (*ResourceUsage, error) {
	return nil, errors.NewInternalError("memory sampling is not supported on "+runtime.GOOS, nil).WithContext("pid", pid)
}

func (u *unsupportedResourceMonitor) SupportsRealTimeMonitoring() bool {
	return false
}
