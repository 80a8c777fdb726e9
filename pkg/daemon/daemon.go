package daemon

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/core-tools/hsu-procman/pkg/control"
	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/metrics"
	"github.com/core-tools/hsu-procman/pkg/process"
	"github.com/core-tools/hsu-procman/pkg/processfile"
	"github.com/core-tools/hsu-procman/pkg/processstate"
	"github.com/core-tools/hsu-procman/pkg/supervisor"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

const (
	DefaultPort            = 50055
	DefaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	ConfigFile string
	Mode       descriptor.EnvironmentMode

	// Port of the gRPC control plane on the loopback interface. 0 picks a free port.
	Port int
	// MetricsAddr enables the Prometheus endpoint when not empty
	MetricsAddr string

	MemoryCheckInterval time.Duration
	ShutdownTimeout     time.Duration

	ProcessFiles processfile.ProcessFileConfig
}

// Daemon is one running supervisor with its control plane
type Daemon struct {
	config Config
	logger *logging.ZapLogger

	store      *descriptor.Store
	lock       *flock.Flock
	pidFiles   *processfile.ProcessFileManager
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	metricsSrv *metrics.Server
	supervisor *supervisor.Supervisor
	grpcServer *grpc.Server
	listener   net.Listener
}

// New loads the ecosystem file and takes the daemon lock. Nothing is
// listening and no process is running until Start.
func New(config Config, logger *logging.ZapLogger) (*Daemon, error) {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	store, err := descriptor.LoadFile(config.ConfigFile)
	if err != nil {
		return nil, err
	}
	logger.Infof("Configuration loaded, file: %s, apps: %d", config.ConfigFile, store.Len())

	pidFiles := processfile.NewProcessFileManager(config.ProcessFiles, logging.WithPrefix(logger, "pidfile, "))
	lockPath := pidFiles.GenerateLockFilePath()
	if err := processfile.ValidatePIDFileDirectory(lockPath); err != nil {
		return nil, err
	}
	lock, err := acquireLock(lockPath)
	if err != nil {
		return nil, err
	}
	reapOrphans(pidFiles, logger)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry(registry)

	sup, err := supervisor.New(store, supervisor.Options{
		Mode:                config.Mode,
		MemoryCheckInterval: config.MemoryCheckInterval,
		Logger:              logging.WithPrefix(logger, "supervisor, "),
		EventLogger:         logger.Structured().Named("events"),
		Metrics:             collector,
		PIDFiles:            pidFiles,
	})
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	d := &Daemon{
		config:     config,
		logger:     logger,
		store:      store,
		lock:       lock,
		pidFiles:   pidFiles,
		registry:   registry,
		metrics:    collector,
		supervisor: sup,
		grpcServer: grpc.NewServer(),
	}
	control.RegisterGRPCServerHandler(d.grpcServer, supervisor.NewContractHandler(sup), logging.WithPrefix(logger, "control, "))
	return d, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.NewIOError("failed to acquire daemon lock", err).WithContext("lock_file", path)
	}
	if !locked {
		return nil, errors.NewConflictError("another daemon is already running", nil).WithContext("lock_file", path)
	}
	return lock, nil
}

// reapOrphans kills processes left behind by a daemon that died without
// stopping its apps. It runs with the lock held, so every pid file belongs to
// a previous daemon. Returns the number of processes killed.
func reapOrphans(pidFiles *processfile.ProcessFileManager, logger logging.Logger) int {
	ids, err := pidFiles.ListPIDFiles()
	if err != nil {
		logger.Warnf("Failed to list PID files: %v", err)
		return 0
	}

	killed := 0
	for _, id := range ids {
		pid, err := pidFiles.ReadPIDFile(id)
		if err != nil {
			logger.Warnf("Discarding unreadable PID file, handle: %s, error: %v", id, err)
		} else if running, _ := processstate.IsProcessRunning(pid); running {
			logger.Warnf("Killing orphaned process, handle: %s, pid: %d", id, pid)
			if err := process.KillProcessTree(pid); err != nil {
				logger.Errorf("Failed to kill orphaned process, handle: %s, pid: %d, error: %v", id, pid, err)
			} else {
				killed++
			}
		}
		if err := pidFiles.RemovePIDFile(id); err != nil {
			logger.Warnf("Failed to remove stale PID file, handle: %s, error: %v", id, err)
		}
	}
	return killed
}

// Start binds the control plane and the metrics endpoint, then starts every app.
// A failing app does not fail the daemon; its state is visible through Status.
func (d *Daemon) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", d.config.Port))
	if err != nil {
		return errors.NewNetworkError("failed to listen for control plane", err).WithContext("port", d.config.Port)
	}
	d.listener = listener
	d.logger.Infof("Control plane listening, addr: %s", listener.Addr())

	go func() {
		if err := d.grpcServer.Serve(listener); err != nil {
			d.logger.Errorf("Control plane server error: %v", err)
		}
	}()

	if d.config.MetricsAddr != "" {
		d.metricsSrv = metrics.NewServerWithGatherer(d.config.MetricsAddr, d.registry, logging.WithPrefix(d.logger, "metrics, "))
		if err := d.metricsSrv.Start(); err != nil {
			d.metricsSrv = nil
			return err
		}
	}

	if err := d.supervisor.Start(ctx, supervisor.AllProcesses); err != nil {
		d.logger.Warnf("Some apps failed to start: %v", err)
	}
	return nil
}

// Addr is the bound control plane address
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Daemon) Supervisor() *supervisor.Supervisor {
	return d.supervisor
}

// Shutdown stops every process, the servers and releases the lock. The
// shutdown timeout bounds the whole sequence.
func (d *Daemon) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.ShutdownTimeout)
	defer cancel()

	errs := errors.NewErrorCollection()

	d.grpcServer.GracefulStop()

	if err := d.supervisor.Shutdown(ctx); err != nil {
		errs.Add(err)
	}

	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			errs.Add(errors.NewNetworkError("failed to stop metrics server", err))
		}
	}

	if err := d.lock.Unlock(); err != nil {
		errs.Add(errors.NewIOError("failed to release daemon lock", err))
	}

	d.logger.Infof("Daemon stopped")
	return errs.ToError()
}
