package process

import (
	"context"
	"io"
	"time"
)

// ExecutionConfig describes one launch of a child process
type ExecutionConfig struct {
	ID               string        `yaml:"id"`
	Command          string        `yaml:"command"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`

	Stdout io.Writer `yaml:"-"`
	Stderr io.Writer `yaml:"-"`
}

// ExitStatus describes how a process ended
type ExitStatus struct {
	ExitCode int
	Signaled bool
	Signal   string
	ExitedAt time.Time
	Err      error // Wait failure unrelated to the exit code
}

// Process is a started child process. Done is closed once the process has
// been reaped; ExitStatus is valid from then on.
type Process interface {
	Pid() int
	Done() <-chan struct{}
	ExitStatus() ExitStatus
	Alive() bool
	Terminate() error
	Kill() error
}

// Spawner starts child processes
type Spawner interface {
	Spawn(ctx context.Context, execution ExecutionConfig) (Process, error)
}
