package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/metrics"
	"github.com/core-tools/hsu-procman/pkg/process"
	"github.com/core-tools/hsu-procman/pkg/processfile"
	"github.com/core-tools/hsu-procman/pkg/resourcelimits"

	"go.uber.org/zap"
)

// AllProcesses selects every handle in Start, Stop and Restart
const AllProcesses = descriptor.AllApps

const DefaultMemoryCheckInterval = 30 * time.Second

type Options struct {
	Mode descriptor.EnvironmentMode

	Spawner         process.Spawner                        // default: process.NewStdSpawner
	ResourceMonitor resourcelimits.PlatformResourceMonitor // default: resourcelimits.NewPlatformResourceMonitor

	MemoryCheckInterval time.Duration
	WatchDebounce       time.Duration

	Logger      logging.Logger
	EventLogger *zap.Logger // state transitions and restart decisions
	Metrics     *metrics.Collector
	PIDFiles    *processfile.ProcessFileManager
}

// Supervisor owns one handle per app instance. Each handle runs its own
// goroutine; all operations are requests serialized through it.
type Supervisor struct {
	store   *descriptor.Store
	options Options
	logger  logging.Logger
	events  *zap.Logger

	handles []*handle
	byName  map[string][]*handle

	ctx    context.Context
	cancel context.CancelFunc

	mutex    sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// New creates the handles of every app in store. No process is started
// until Start is called.
func New(store *descriptor.Store, options Options) (*Supervisor, error) {
	if store == nil {
		return nil, errors.NewValidationError("descriptor store is required", nil)
	}
	if options.Logger == nil {
		options.Logger = logging.NewNopLogger()
	}
	if options.EventLogger == nil {
		options.EventLogger = zap.NewNop()
	}
	if options.Spawner == nil {
		options.Spawner = process.NewStdSpawner(options.Logger)
	}
	if options.ResourceMonitor == nil {
		options.ResourceMonitor = resourcelimits.NewPlatformResourceMonitor(options.Logger)
	}
	if options.MemoryCheckInterval <= 0 {
		options.MemoryCheckInterval = DefaultMemoryCheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		store:   store,
		options: options,
		logger:  options.Logger,
		events:  options.EventLogger,
		byName:  make(map[string][]*handle),
		ctx:     ctx,
		cancel:  cancel,
	}

	for _, desc := range store.All() {
		for i := 0; i < desc.Instances; i++ {
			h := newHandle(s, desc, i)
			s.handles = append(s.handles, h)
			s.byName[desc.Name] = append(s.byName[desc.Name], h)
			options.Metrics.RecordState(desc.Name, i, string(StateStopped))
		}
	}
	options.Metrics.SetManagedProcesses(len(s.handles))

	for _, h := range s.handles {
		s.wg.Add(1)
		go func(h *handle) {
			defer s.wg.Done()
			h.run(ctx)
		}(h)
	}

	s.logger.Infof("Supervisor created, apps: %d, handles: %d, mode: '%s'", store.Len(), len(s.handles), options.Mode)
	return s, nil
}

// selectHandles resolves "" or "all" to every handle, an app name to all of
// its instances, and "<name>-<instance>" to a single instance.
func (s *Supervisor) selectHandles(name string) ([]*handle, error) {
	if name == "" || name == AllProcesses {
		return s.handles, nil
	}
	if hs, ok := s.byName[name]; ok {
		return hs, nil
	}
	for _, h := range s.handles {
		if h.id == name {
			return []*handle{h}, nil
		}
	}
	return nil, errors.NewNotFoundError("no such app", nil).WithContext("name", name)
}

func (s *Supervisor) checkRunning() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.shutdown {
		return errors.NewCancelledError("supervisor is shut down", nil)
	}
	return nil
}

// each applies op to every selected handle in order. A failing handle does
// not prevent the others from being processed.
func (s *Supervisor) each(ctx context.Context, name string, kind requestKind) error {
	if err := s.checkRunning(); err != nil {
		return err
	}
	hs, err := s.selectHandles(name)
	if err != nil {
		return err
	}

	errs := errors.NewErrorCollection()
	for _, h := range hs {
		errs.Add(h.do(ctx, kind))
	}
	if len(errs.Errors) == 1 {
		return errs.Errors[0]
	}
	return errs.ToError()
}

// Start launches the named app ("" for all). Starting a running app is a no-op.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	return s.each(ctx, name, requestStart)
}

// Stop terminates the named app and suppresses any restart. Stopping an app
// that is already stopped is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	return s.each(ctx, name, requestStop)
}

// Restart stops and starts the named app
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	return s.each(ctx, name, requestRestart)
}

// Reload restarts every handle one at a time, waiting for each to reach
// Running before the next one is touched.
func (s *Supervisor) Reload(ctx context.Context) error {
	if err := s.checkRunning(); err != nil {
		return err
	}

	errs := errors.NewErrorCollection()
	for _, h := range s.handles {
		if err := h.do(ctx, requestRestart); err != nil {
			errs.Add(err)
			if errors.IsCancelledError(err) {
				break
			}
			continue
		}
		if state := h.Snapshot().State; state != StateRunning {
			s.logger.Warnf("Reload: %s did not reach running, state: %s", h.id, state)
			errs.Add(errors.NewSpawnError("process did not reach running during reload", nil).
				WithContext("id", h.id).
				WithContext("state", string(state)))
		}
	}
	if len(errs.Errors) == 1 {
		return errs.Errors[0]
	}
	return errs.ToError()
}

// Status returns a snapshot of every handle in configuration order
func (s *Supervisor) Status() []Snapshot {
	snapshots := make([]Snapshot, 0, len(s.handles))
	for _, h := range s.handles {
		snapshots = append(snapshots, h.Snapshot())
	}
	return snapshots
}

// Describe returns the descriptor of an app
func (s *Supervisor) Describe(name string) (*descriptor.ProcessDescriptor, error) {
	return s.store.Get(name)
}

// Shutdown stops every process in parallel and ends all handle goroutines.
// Calling it again is a no-op.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	if s.shutdown {
		s.mutex.Unlock()
		return nil
	}
	s.shutdown = true
	s.mutex.Unlock()

	s.logger.Infof("Supervisor shutting down, handles: %d", len(s.handles))

	var (
		errMutex sync.Mutex
		errs     = errors.NewErrorCollection()
		wg       sync.WaitGroup
	)
	for _, h := range s.handles {
		wg.Add(1)
		go func(h *handle) {
			defer wg.Done()
			if err := h.do(ctx, requestStop); err != nil {
				errMutex.Lock()
				errs.Add(err)
				errMutex.Unlock()
			}
		}(h)
	}
	wg.Wait()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs.Add(errors.NewTimeoutError("handles did not finish before shutdown deadline", ctx.Err()))
	}

	s.logger.Infof("Supervisor shut down")
	return errs.ToError()
}
