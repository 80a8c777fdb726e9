package resourcelimits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

const DefaultMonitoringInterval = 30 * time.Second

// MonitoringConfig configures one memory monitor
type MonitoringConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
	MaxRSS   int64         `yaml:"max_rss,omitempty"` // 0 samples without a cap
}

// MemoryMonitor samples the memory of one process periodically. The first
// sample at or above MaxRSS fires the violation callback; sampling stops after
// that since the process is about to be replaced.
type MemoryMonitor struct {
	pid      int
	config   MonitoringConfig
	logger   logging.Logger
	platform PlatformResourceMonitor

	usageCallback     ResourceUsageCallback
	violationCallback ResourceViolationCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.RWMutex

	isRunning bool
	lastUsage *ResourceUsage
}

func NewMemoryMonitor(pid int, config MonitoringConfig, platform PlatformResourceMonitor, logger logging.Logger) *MemoryMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultMonitoringInterval
	}
	return &MemoryMonitor{
		pid:      pid,
		config:   config,
		logger:   logger,
		platform: platform,
	}
}

func (m *MemoryMonitor) SetUsageCallback(callback ResourceUsageCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.usageCallback = callback
}

func (m *MemoryMonitor) SetViolationCallback(callback ResourceViolationCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.violationCallback = callback
}

// Start begins sampling until ctx is cancelled or Stop is called
func (m *MemoryMonitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.isRunning {
		return errors.NewConflictError("memory monitor is already running", nil).WithContext("pid", m.pid)
	}
	if !m.platform.SupportsRealTimeMonitoring() {
		m.logger.Warnf("Memory monitoring not supported, PID: %d", m.pid)
		return nil
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.isRunning = true

	m.logger.Debugf("Starting memory monitoring, PID: %d, interval: %v, limit: %d bytes", m.pid, m.config.Interval, m.config.MaxRSS)

	m.wg.Add(1)
	go m.monitorLoop(monitorCtx)

	return nil
}

// Stop stops sampling and waits for the loop to exit. Safe to call twice.
func (m *MemoryMonitor) Stop() {
	m.mutex.Lock()
	if !m.isRunning {
		m.mutex.Unlock()
		return
	}
	m.cancel()
	m.isRunning = false
	m.mutex.Unlock()

	m.wg.Wait()
	m.logger.Debugf("Memory monitoring stopped, PID: %d", m.pid)
}

// LastUsage returns the most recent sample, nil before the first one
func (m *MemoryMonitor) LastUsage() *ResourceUsage {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.lastUsage
}

func (m *MemoryMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if violated := m.collectUsage(); violated {
				return
			}
		}
	}
}

// collectUsage takes one sample and reports whether the cap was hit
func (m *MemoryMonitor) collectUsage() bool {
	usage, err := m.platform.GetProcessUsage(m.pid)
	if err != nil {
		m.logger.Debugf("Failed to collect memory usage, PID: %d, error: %v", m.pid, err)
		return false
	}

	m.mutex.Lock()
	m.lastUsage = usage
	usageCallback := m.usageCallback
	violationCallback := m.violationCallback
	m.mutex.Unlock()

	if usageCallback != nil {
		usageCallback(usage)
	}

	violation := CheckMemoryViolation(usage, m.config.MaxRSS)
	if violation == nil {
		return false
	}

	m.logger.Warnf("%s", violation.Message)
	if violationCallback != nil {
		violationCallback(violation)
	}
	return true
}

// CheckMemoryViolation returns a violation when usage is at or above maxRSS
func CheckMemoryViolation(usage *ResourceUsage, maxRSS int64) *ResourceViolation {
	if maxRSS <= 0 || usage == nil || usage.MemoryRSS < maxRSS {
		return nil
	}
	return &ResourceViolation{
		PID:          usage.PID,
		CurrentValue: usage.MemoryRSS,
		LimitValue:   maxRSS,
		Timestamp:    usage.Timestamp,
		Message:      fmt.Sprintf("Memory RSS (%d bytes) reached limit (%d bytes), PID: %d", usage.MemoryRSS, maxRSS, usage.PID),
	}
}
