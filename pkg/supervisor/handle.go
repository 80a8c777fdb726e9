package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logcollection"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/process"
	"github.com/core-tools/hsu-procman/pkg/resourcelimits"
	"github.com/core-tools/hsu-procman/pkg/restartpolicy"
	"github.com/core-tools/hsu-procman/pkg/watch"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceEnvVar carries the instance index to every child
const InstanceEnvVar = "NODE_APP_INSTANCE"

type requestKind int

const (
	requestStart requestKind = iota
	requestStop
	requestRestart
)

func (k requestKind) String() string {
	switch k {
	case requestStart:
		return "start"
	case requestStop:
		return "stop"
	case requestRestart:
		return "restart"
	}
	return "unknown"
}

type request struct {
	kind  requestKind
	ctx   context.Context
	reply chan error
}

type memoryViolation struct {
	runID string
	rss   int64
}

// handle supervises one instance of one app. Everything below the mutex is
// owned by the run goroutine; other goroutines only read snap.
type handle struct {
	id       string
	desc     *descriptor.ProcessDescriptor
	instance int
	sup      *Supervisor
	logger   logging.Logger
	events   *zap.Logger

	requests   chan request
	violations chan memoryViolation
	done       chan struct{}

	snapMutex sync.RWMutex
	snap      Snapshot

	proc         process.Process
	streams      *logcollection.Streams
	monitor      *resourcelimits.MemoryMonitor
	violationRSS int64
	stopping     bool // exit in progress was requested, restart is suppressed

	timer *time.Timer

	watcher     *watch.Watcher
	watchCancel context.CancelFunc
}

func newHandle(sup *Supervisor, desc *descriptor.ProcessDescriptor, instance int) *handle {
	id := handleID(desc.Name, instance)
	return &handle{
		id:         id,
		desc:       instanceDescriptor(desc, instance),
		instance:   instance,
		sup:        sup,
		logger:     logging.WithPrefix(sup.logger, fmt.Sprintf("app: %s, ", id)),
		events:     sup.events.With(zap.String("name", desc.Name), zap.Int("instance", instance)),
		requests:   make(chan request),
		violations: make(chan memoryViolation, 1),
		done:       make(chan struct{}),
		snap: Snapshot{
			Name:     desc.Name,
			Instance: instance,
			ID:       id,
			State:    StateStopped,
		},
	}
}

// instanceDescriptor gives every instance of a multi-instance app its own log
// files ("api-out-1.log"); single instances use the descriptor unchanged.
func instanceDescriptor(desc *descriptor.ProcessDescriptor, instance int) *descriptor.ProcessDescriptor {
	if desc.Instances <= 1 {
		return desc
	}
	d := *desc
	d.OutLogPath = suffixPath(desc.OutLogPath, instance)
	d.ErrorLogPath = suffixPath(desc.ErrorLogPath, instance)
	d.CombinedLogPath = suffixPath(desc.CombinedLogPath, instance)
	return &d
}

func suffixPath(path string, instance int) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + strconv.Itoa(instance) + ext
}

// Snapshot returns a copy of the handle's current state
func (h *handle) Snapshot() Snapshot {
	h.snapMutex.RLock()
	defer h.snapMutex.RUnlock()
	snap := h.snap
	if h.snap.LastExitCode != nil {
		code := *h.snap.LastExitCode
		snap.LastExitCode = &code
	}
	return snap
}

func (h *handle) update(fn func(s *Snapshot)) {
	h.snapMutex.Lock()
	defer h.snapMutex.Unlock()
	fn(&h.snap)
}

func (h *handle) state() ProcessState {
	return h.snap.State
}

func (h *handle) setState(state ProcessState, reason string) {
	from := h.snap.State
	h.update(func(s *Snapshot) { s.State = state })
	h.sup.options.Metrics.RecordState(h.desc.Name, h.instance, string(state))
	h.events.Info("state_transition",
		zap.String("from", string(from)),
		zap.String("to", string(state)),
		zap.String("reason", reason),
		zap.Int("pid", h.snap.PID),
	)
}

// do hands a request to the run goroutine and waits for its answer
func (h *handle) do(ctx context.Context, kind requestKind) error {
	req := request{kind: kind, ctx: ctx, reply: make(chan error, 1)}

	select {
	case h.requests <- req:
	case <-h.done:
		return errors.NewCancelledError("supervisor is shut down", nil).WithContext("id", h.id)
	case <-ctx.Done():
		return errors.NewCancelledError(kind.String()+" request cancelled", ctx.Err()).WithContext("id", h.id)
	}

	select {
	case err := <-req.reply:
		return err
	case <-h.done:
		return errors.NewCancelledError("supervisor is shut down", nil).WithContext("id", h.id)
	case <-ctx.Done():
		return errors.NewCancelledError(kind.String()+" request cancelled", ctx.Err()).WithContext("id", h.id)
	}
}

func (h *handle) run(ctx context.Context) {
	defer close(h.done)
	defer h.release()

	for {
		var exited <-chan struct{}
		if h.proc != nil {
			exited = h.proc.Done()
		}
		var restartDue <-chan time.Time
		if h.timer != nil {
			restartDue = h.timer.C
		}
		var changes <-chan watch.Change
		if h.watcher != nil {
			changes = h.watcher.Changes
		}

		select {
		case <-ctx.Done():
			return

		case req := <-h.requests:
			req.reply <- h.handleRequest(ctx, req)

		case <-exited:
			h.onExit()

		case <-restartDue:
			h.timer = nil
			h.update(func(s *Snapshot) { s.RestartScheduledAt = time.Time{} })
			h.spawn(ctx, "scheduled_restart")

		case v := <-h.violations:
			h.onMemoryViolation(ctx, v)

		case change := <-changes:
			h.onWatchChange(ctx, change)
		}
	}
}

func (h *handle) handleRequest(ctx context.Context, req request) error {
	reqCtx := req.ctx
	if reqCtx == nil {
		reqCtx = ctx
	}

	switch req.kind {
	case requestStart:
		if h.proc != nil || h.timer != nil {
			h.logger.Debugf("Start ignored, already %s", h.state())
			return nil
		}
		h.update(func(s *Snapshot) { s.RestartCount = 0 })
		return h.spawn(reqCtx, "operator_start")

	case requestStop:
		err := h.stop(reqCtx, string(restartpolicy.ReasonManualStop))
		h.stopWatcher()
		return err

	case requestRestart:
		if err := h.stop(reqCtx, "operator_restart"); err != nil {
			return err
		}
		h.update(func(s *Snapshot) {
			s.RestartCount = 0
			s.TotalRestarts++
		})
		return h.spawn(reqCtx, "operator_restart")
	}

	return errors.NewInternalError("unknown request", nil).WithContext("kind", int(req.kind))
}

// spawn launches a new process for the handle. A resolution failure puts
// the handle into Errored; a start failure counts as an immediate crash.
func (h *handle) spawn(ctx context.Context, reason string) error {
	h.cancelTimer()
	h.setState(StateStarting, reason)

	streams := h.openStreams()
	command, args := h.desc.CommandLine()

	env := descriptor.ResolveEnv(h.desc, h.sup.options.Mode)
	env[InstanceEnvVar] = strconv.Itoa(h.instance)

	runID := uuid.NewString()
	proc, err := h.sup.options.Spawner.Spawn(ctx, process.ExecutionConfig{
		ID:               h.id,
		Command:          command,
		Args:             args,
		Environment:      descriptor.EnvList(env),
		WorkingDirectory: h.desc.WorkingDir,
		Stdout:           streams.Stdout(),
		Stderr:           streams.Stderr(),
	})
	if err != nil {
		streams.Close()
		h.sup.options.Metrics.RecordSpawnFailure(h.desc.Name)
		h.logger.Errorf("Spawn failed: %v", err)
		h.update(func(s *Snapshot) { s.LastError = err.Error() })

		if process.IsStartFailure(err) {
			now := time.Now()
			h.decide(restartpolicy.HandleState{StartedAt: now, RestartCount: h.snap.RestartCount},
				restartpolicy.ExitEvent{ExitCode: -1, ExitedAt: now})
			return err
		}
		h.update(func(s *Snapshot) { s.PID = 0 })
		h.setState(StateErrored, "spawn_error")
		return err
	}

	h.proc = proc
	h.streams = streams
	h.violationRSS = 0
	h.update(func(s *Snapshot) {
		s.PID = proc.Pid()
		s.RunID = runID
		s.StartedAt = time.Now()
		s.LastError = ""
		s.MemoryRSS = 0
	})

	if pidFiles := h.sup.options.PIDFiles; pidFiles != nil {
		if err := pidFiles.WritePIDFile(h.id, proc.Pid()); err != nil {
			h.logger.Warnf("Failed to write PID file: %v", err)
		}
	}

	h.startMonitor(runID)
	h.startWatcher()

	h.sup.options.Metrics.RecordStart(h.desc.Name, h.instance)
	if proc.Alive() {
		h.setState(StateRunning, "process_alive")
	}
	return nil
}

func (h *handle) openStreams() *logcollection.Streams {
	streams, err := logcollection.OpenLogs(h.desc)
	if err == nil {
		return streams
	}
	h.logger.Warnf("Log files unavailable, forwarding output to the supervisor log: %v", err)
	return logcollection.FallbackStreams(h.sup.logger, h.id)
}

// startMonitor samples memory for the lifetime of the supervisor, not of the
// request that spawned the process.
func (h *handle) startMonitor(runID string) {
	if !h.desc.HasMemoryLimit() || h.sup.options.ResourceMonitor == nil {
		return
	}

	monitor := resourcelimits.NewMemoryMonitor(h.proc.Pid(), resourcelimits.MonitoringConfig{
		Interval: h.sup.options.MemoryCheckInterval,
		MaxRSS:   h.desc.MaxMemoryBytes,
	}, h.sup.options.ResourceMonitor, h.logger)

	monitor.SetUsageCallback(func(usage *resourcelimits.ResourceUsage) {
		h.update(func(s *Snapshot) { s.MemoryRSS = usage.MemoryRSS })
		h.sup.options.Metrics.RecordMemory(h.desc.Name, h.instance, usage.MemoryRSS)
	})
	monitor.SetViolationCallback(func(v *resourcelimits.ResourceViolation) {
		select {
		case h.violations <- memoryViolation{runID: runID, rss: v.CurrentValue}:
		default:
		}
	})

	if err := monitor.Start(h.sup.ctx); err != nil {
		h.logger.Warnf("Failed to start memory monitor: %v", err)
		return
	}
	h.monitor = monitor
}

func (h *handle) startWatcher() {
	if !h.desc.WatchEnabled() || h.watcher != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	watcher, err := watch.NewWatcher(ctx, watch.Config{
		Paths:    h.desc.Watch,
		Ignore:   h.desc.IgnoreWatch,
		Debounce: h.sup.options.WatchDebounce,
	}, h.logger)
	if err != nil {
		cancel()
		h.logger.Warnf("File watching disabled: %v", err)
		return
	}
	h.watcher = watcher
	h.watchCancel = cancel
	h.logger.Infof("Watching %v for changes", h.desc.Watch)
}

func (h *handle) stopWatcher() {
	if h.watchCancel != nil {
		h.watchCancel()
	}
	h.watcher = nil
	h.watchCancel = nil
}

// stop terminates the current process without restarting it. Stopping a
// handle that has no process only cancels a pending restart.
func (h *handle) stop(ctx context.Context, reason string) error {
	if h.timer != nil {
		h.cancelTimer()
		h.setState(StateStopped, reason)
		return nil
	}
	if h.proc == nil {
		return nil
	}

	h.stopping = true
	if err := h.terminate(ctx, reason); err != nil {
		return err
	}
	h.onExit()
	return nil
}

// terminate moves to Stopping and waits for the process to go away. A forced
// kill is only a warning; a process that survives the kill is an error.
func (h *handle) terminate(ctx context.Context, reason string) error {
	h.setState(StateStopping, reason)

	err := process.Terminate(ctx, h.proc, h.desc.KillTimeout, h.id, h.logger)
	switch {
	case err == nil:
		return nil
	case errors.IsShutdownTimeoutError(err):
		h.logger.Warnf("%v", err)
		h.events.Warn("shutdown_timeout", zap.Duration("grace", h.desc.KillTimeout), zap.Int("pid", h.snap.PID))
		return nil
	default:
		h.logger.Errorf("Failed to terminate process: %v", err)
		h.update(func(s *Snapshot) { s.LastError = err.Error() })
		return err
	}
}

// onExit runs once the current process has been reaped
func (h *handle) onExit() {
	status := h.proc.ExitStatus()

	rss := h.violationRSS
	if rss == 0 && h.monitor != nil {
		if usage := h.monitor.LastUsage(); usage != nil {
			rss = usage.MemoryRSS
		}
	}

	state := restartpolicy.HandleState{StartedAt: h.snap.StartedAt, RestartCount: h.snap.RestartCount}
	exit := restartpolicy.ExitEvent{
		ExitCode:            status.ExitCode,
		Signaled:            status.Signaled,
		ExitedAt:            status.ExitedAt,
		ResidentMemoryBytes: rss,
		ManualStop:          h.stopping,
	}

	h.releaseRun()
	h.stopping = false

	code := status.ExitCode
	h.update(func(s *Snapshot) {
		s.LastExitCode = &code
		s.PID = 0
	})
	h.sup.options.Metrics.RecordExit(h.desc.Name, code)
	h.logger.Infof("Process exited, code: %d, signaled: %v, uptime: %v", code, status.Signaled, restartpolicy.Uptime(state, exit))

	h.decide(state, exit)
}

// decide applies the restart policy to an exit event
func (h *handle) decide(state restartpolicy.HandleState, exit restartpolicy.ExitEvent) {
	decision := restartpolicy.Decide(h.desc, state, exit)

	h.events.Info("restart_decision",
		zap.Bool("restart", decision.ShouldRestart),
		zap.String("reason", string(decision.Reason)),
		zap.Duration("delay", decision.Delay),
		zap.Int("exit_code", exit.ExitCode),
		zap.Int("restart_count", state.RestartCount),
	)
	h.update(func(s *Snapshot) { s.LastReason = decision.Reason })

	if decision.ShouldRestart {
		h.update(func(s *Snapshot) {
			switch {
			case decision.ResetRestartCount:
				s.RestartCount = 0
			case decision.Reason == restartpolicy.ReasonCrashBeforeMinUptime:
				s.RestartCount++
			}
			s.TotalRestarts++
		})
		h.sup.options.Metrics.RecordRestart(h.desc.Name, string(decision.Reason))
		h.scheduleRestart(decision.Delay, string(decision.Reason))
		return
	}

	switch decision.Reason {
	case restartpolicy.ReasonMaxRetriesExceeded:
		err := errors.NewPolicyExhaustedError(
			fmt.Sprintf("process crashed %d times within %v of starting", state.RestartCount, h.desc.MinUptime), nil).
			WithContext("id", h.id)
		h.logger.Errorf("%v", err)
		h.update(func(s *Snapshot) { s.LastError = err.Error() })
		h.stopWatcher()
		h.setState(StateErrored, string(decision.Reason))
	default:
		h.setState(StateStopped, string(decision.Reason))
	}
}

func (h *handle) scheduleRestart(delay time.Duration, reason string) {
	h.cancelTimer()
	h.timer = time.NewTimer(delay)
	at := time.Now().Add(delay)
	h.update(func(s *Snapshot) { s.RestartScheduledAt = at })
	h.setState(StateStarting, reason)
	h.logger.Infof("Restart scheduled in %v, reason: %s", delay, reason)
}

func (h *handle) cancelTimer() {
	if h.timer == nil {
		return
	}
	h.timer.Stop()
	h.timer = nil
	h.update(func(s *Snapshot) { s.RestartScheduledAt = time.Time{} })
}

func (h *handle) onMemoryViolation(ctx context.Context, v memoryViolation) {
	if h.proc == nil || v.runID != h.snap.RunID {
		return
	}

	h.violationRSS = v.rss
	h.logger.Warnf("Memory limit reached, rss: %d bytes, limit: %d bytes", v.rss, h.desc.MaxMemoryBytes)
	h.events.Warn("memory_exceeded", zap.Int64("rss", v.rss), zap.Int64("limit", h.desc.MaxMemoryBytes))

	termCtx, cancel := context.WithTimeout(ctx, h.desc.KillTimeout+process.KillWaitTimeout)
	defer cancel()
	if err := h.terminate(termCtx, string(restartpolicy.ReasonMemoryExceeded)); err != nil {
		return
	}
	h.onExit()
}

func (h *handle) onWatchChange(ctx context.Context, change watch.Change) {
	h.logger.Infof("Change detected in %v, restarting", change.Paths)
	h.events.Info("watch_restart", zap.Strings("paths", change.Paths))

	if err := h.stop(ctx, "watch_change"); err != nil {
		return
	}
	h.update(func(s *Snapshot) { s.TotalRestarts++ })
	h.spawn(ctx, "watch_change")
}

// releaseRun frees everything that belongs to the process that just exited
func (h *handle) releaseRun() {
	if h.monitor != nil {
		h.monitor.Stop()
		h.monitor = nil
	}
	if h.streams != nil {
		if err := h.streams.Close(); err != nil {
			h.logger.Warnf("Failed to close log streams: %v", err)
		}
		h.streams = nil
	}
	if pidFiles := h.sup.options.PIDFiles; pidFiles != nil {
		if err := pidFiles.RemovePIDFile(h.id); err != nil {
			h.logger.Warnf("Failed to remove PID file: %v", err)
		}
	}
	h.proc = nil
}

// release runs when the supervisor goes away. Processes still alive at this
// point are killed so that nothing outlives the daemon.
func (h *handle) release() {
	h.cancelTimer()
	h.stopWatcher()
	if h.proc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.desc.KillTimeout+process.KillWaitTimeout)
	defer cancel()
	h.stopping = true
	if err := h.terminate(ctx, "supervisor_shutdown"); err != nil {
		h.releaseRun()
		return
	}
	h.onExit()
}
