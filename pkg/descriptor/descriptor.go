package descriptor

import (
	"path/filepath"
	"strings"
	"time"
)

// ExecMode selects how instances of an app are launched
type ExecMode string

const (
	ExecModeFork    ExecMode = "fork"
	ExecModeCluster ExecMode = "cluster"
)

// EnvironmentMode selects which env_<mode> block overlays the base env
type EnvironmentMode string

const (
	EnvironmentDefault    EnvironmentMode = ""
	EnvironmentProduction EnvironmentMode = "production"
)

const (
	DefaultMinUptime   = 1000 * time.Millisecond
	DefaultKillTimeout = 1600 * time.Millisecond
	DefaultMaxRestarts = 16

	// InterpreterNone executes the script directly.
	InterpreterNone = "none"
)

// ProcessDescriptor is the immutable, validated description of one managed app
type ProcessDescriptor struct {
	Name string

	Script          string
	Args            []string
	Interpreter     string
	InterpreterArgs []string
	WorkingDir      string

	Env           map[string]string
	EnvProduction map[string]string
	ModeEnv       map[string]map[string]string

	ErrorLogPath    string
	OutLogPath      string
	CombinedLogPath string
	Timestamps      bool

	Watch       []string
	IgnoreWatch []string

	MaxMemoryBytes         int64
	RestartDelay           time.Duration
	ExpBackoffRestartDelay time.Duration
	MinUptime              time.Duration
	KillTimeout            time.Duration
	MaxRestarts            int
	Autorestart            bool

	Instances int
	ExecMode  ExecMode
}

// RestartDelayMs returns the restart delay in canonical milliseconds
func (d *ProcessDescriptor) RestartDelayMs() int64 {
	return d.RestartDelay.Milliseconds()
}

// MinUptimeMs returns the minimum uptime in canonical milliseconds
func (d *ProcessDescriptor) MinUptimeMs() int64 {
	return d.MinUptime.Milliseconds()
}

// HasMemoryLimit reports whether a memory cap is configured
func (d *ProcessDescriptor) HasMemoryLimit() bool {
	return d.MaxMemoryBytes > 0
}

// WatchEnabled reports whether file changes restart the app
func (d *ProcessDescriptor) WatchEnabled() bool {
	return len(d.Watch) > 0
}

// CommandLine returns the executable and arguments to launch. Scripts with a
// known extension run through their interpreter unless one is set explicitly.
func (d *ProcessDescriptor) CommandLine() (string, []string) {
	interpreter := d.Interpreter
	if interpreter == "" {
		interpreter = InferInterpreter(d.Script)
	}
	if interpreter == "" || interpreter == InterpreterNone {
		return d.Script, append(make([]string, 0, len(d.Args)), d.Args...)
	}

	args := make([]string, 0, len(d.InterpreterArgs)+1+len(d.Args))
	args = append(args, d.InterpreterArgs...)
	args = append(args, d.Script)
	args = append(args, d.Args...)
	return interpreter, args
}

// InferInterpreter maps a script extension to an interpreter, "" when the
// script is meant to be executed directly.
func InferInterpreter(script string) string {
	switch strings.ToLower(filepath.Ext(script)) {
	case ".js", ".mjs", ".cjs":
		return "node"
	case ".ts":
		return "ts-node"
	case ".py":
		return "python3"
	case ".sh":
		return "bash"
	case ".rb":
		return "ruby"
	case ".php":
		return "php"
	case ".pl":
		return "perl"
	}
	return ""
}

// DeployTarget is a remote deployment descriptor for one environment.
// All fields are opaque data for an external command executor.
type DeployTarget struct {
	Environment    string
	User           string
	Hosts          []string
	Ref            string
	Repo           string
	Path           string
	PreDeployLocal string
	PreDeploy      string
	PostDeploy     string
	PreSetup       string
	PostSetup      string
}
