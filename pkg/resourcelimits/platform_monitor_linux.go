//go:build linux

package resourcelimits

import (
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"github.com/prometheus/procfs"
)

type linuxResourceMonitor struct {
	fs     procfs.FS
	err    error
	logger logging.Logger
}

// NewPlatformResourceMonitor reads /proc through procfs
func NewPlatformResourceMonitor(logger logging.Logger) PlatformResourceMonitor {
	fs, err := procfs.NewDefaultFS()
	return &linuxResourceMonitor{fs: fs, err: err, logger: logger}
}

// GetProcessUsage sums the resident memory of pid and all of its descendants,
// so that wrappers such as "npm start" are measured with their real workload.
func (l *linuxResourceMonitor) GetProcessUsage(pid int) (*ResourceUsage, error) {
	if l.err != nil {
		return nil, errors.NewIOError("procfs is not available", l.err)
	}

	root, err := l.fs.Proc(pid)
	if err != nil {
		return nil, errors.NewNotFoundError("process not found in procfs", err).WithContext("pid", pid)
	}
	rootStat, err := root.Stat()
	if err != nil {
		return nil, errors.NewIOError("failed to read process stat", err).WithContext("pid", pid)
	}

	usage := &ResourceUsage{
		Timestamp:    time.Now(),
		PID:          pid,
		MemoryRSS:    int64(rootStat.ResidentMemory()),
		ProcessCount: 1,
	}

	procs, err := l.fs.AllProcs()
	if err != nil {
		l.logger.Debugf("Failed to list processes, counting PID %d alone: %v", pid, err)
		return usage, nil
	}

	children := make(map[int][]procfs.ProcStat)
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue // exited while listing
		}
		children[stat.PPID] = append(children[stat.PPID], stat)
	}

	queue := []int{pid}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, child := range children[parent] {
			usage.MemoryRSS += int64(child.ResidentMemory())
			usage.ProcessCount++
			queue = append(queue, child.PID)
		}
	}

	return usage, nil
}

func (l *linuxResourceMonitor) SupportsRealTimeMonitoring() bool {
	return l.err == nil
}
