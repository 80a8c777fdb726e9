package daemon

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-procman/pkg/logging"
)

// Run starts the daemon and blocks until a termination signal arrives or ctx
// ends, then shuts everything down gracefully.
func Run(ctx context.Context, config Config, logger *logging.ZapLogger) error {
	logger.Infof("Daemon starting, config: %s, mode: '%s'", config.ConfigFile, config.Mode)

	d, err := New(config, logger)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	if err := d.Start(ctx); err != nil {
		d.Shutdown(context.Background())
		return err
	}

	logger.Infof("Daemon is ready, control plane: %s", d.Addr())

	select {
	case receivedSignal := <-sig:
		logger.Infof("Daemon received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Daemon context done")
	}

	// Fresh context so that the shutdown itself is not cancelled
	return d.Shutdown(context.Background())
}

// RunFor is Run bounded by a duration, 0 meaning unbounded
func RunFor(duration time.Duration, config Config, logger *logging.ZapLogger) error {
	ctx := context.Background()
	if duration > 0 {
		logger.Infof("Using run duration of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	return Run(ctx, config, logger)
}
