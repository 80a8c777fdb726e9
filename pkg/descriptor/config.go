package descriptor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// EcosystemConfig is the top-level structure of an ecosystem file. JSON files
// are accepted as well since they parse as YAML.
type EcosystemConfig struct {
	Apps   []AppConfig             `yaml:"apps"`
	Deploy map[string]DeployConfig `yaml:"deploy,omitempty"`
}

// AppConfig is one entry of the apps list, keyed the way process manager
// ecosystem files spell them.
type AppConfig struct {
	Name             string        `yaml:"name"`
	Script           string        `yaml:"script"`
	Args             StringList    `yaml:"args,omitempty"`
	Interpreter      string        `yaml:"interpreter,omitempty"`
	InterpreterArgs  StringList    `yaml:"interpreter_args,omitempty"`
	Cwd              string        `yaml:"cwd,omitempty"`
	Instances        Instances     `yaml:"instances,omitempty"`
	ExecMode         string        `yaml:"exec_mode,omitempty"`
	Env              EnvMap        `yaml:"env,omitempty"`
	ErrorFile        string        `yaml:"error_file,omitempty"`
	OutFile          string        `yaml:"out_file,omitempty"`
	LogFile          string        `yaml:"log_file,omitempty"`
	Time             bool          `yaml:"time,omitempty"`
	Watch            WatchSpec     `yaml:"watch,omitempty"`
	IgnoreWatch      StringList    `yaml:"ignore_watch,omitempty"`
	MaxMemoryRestart ByteSize      `yaml:"max_memory_restart,omitempty"`
	RestartDelay     Milliseconds  `yaml:"restart_delay,omitempty"`
	ExpBackoffDelay  Milliseconds  `yaml:"exp_backoff_restart_delay,omitempty"`
	Autorestart      *bool         `yaml:"autorestart,omitempty"` // Pointer to distinguish unset from false
	MinUptime        *Milliseconds `yaml:"min_uptime,omitempty"`
	MaxRestarts      *int          `yaml:"max_restarts,omitempty"`
	KillTimeout      *Milliseconds `yaml:"kill_timeout,omitempty"`

	// ModeEnv holds every env_<mode> block, env_production included, keyed by mode.
	ModeEnv map[string]EnvMap `yaml:"-"`
}

// UnmarshalYAML decodes the fixed keys and collects env_<mode> blocks.
func (a *AppConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AppConfig
	if err := value.Decode((*plain)(a)); err != nil {
		return err
	}
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		mode, ok := strings.CutPrefix(key, "env_")
		if !ok || mode == "" {
			continue
		}
		var env EnvMap
		if err := value.Content[i+1].Decode(&env); err != nil {
			return fmt.Errorf("line %d: %s: %w", value.Content[i].Line, key, err)
		}
		if a.ModeEnv == nil {
			a.ModeEnv = make(map[string]EnvMap)
		}
		a.ModeEnv[mode] = env
	}
	return nil
}

// DeployConfig is one deploy.<environment> block. The core never runs these
// commands; they are handed to an external executor as opaque strings.
type DeployConfig struct {
	User           string     `yaml:"user,omitempty"`
	Host           StringList `yaml:"host,omitempty"`
	Ref            string     `yaml:"ref,omitempty"`
	Repo           string     `yaml:"repo,omitempty"`
	Path           string     `yaml:"path,omitempty"`
	PreDeployLocal string     `yaml:"pre-deploy-local,omitempty"`
	PostDeploy     string     `yaml:"post-deploy,omitempty"`
	PreSetup       string     `yaml:"pre-setup,omitempty"`
	PostSetup      string     `yaml:"post-setup,omitempty"`
	PreDeploy      string     `yaml:"pre-deploy,omitempty"`
}

// ByteSize is a memory amount given either as a plain number of bytes or as a
// human readable size ("1G", "500M", "512K") with binary multiples.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}
	size, err := ParseByteSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(size)
	return nil
}

// ParseByteSize parses "1G" into 1073741824. Empty means unset.
func ParseByteSize(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", raw, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid size %q: must not be negative", raw)
	}
	return size, nil
}

// Milliseconds is a duration given as an integer number of milliseconds or as
// a duration string ("10s", "1m30s").
type Milliseconds time.Duration

func (m *Milliseconds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	d, err := ParseMilliseconds(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*m = Milliseconds(d)
	return nil
}

func (m Milliseconds) Duration() time.Duration {
	return time.Duration(m)
}

const maxMilliseconds = math.MaxInt64 / int64(time.Millisecond)

// ParseMilliseconds accepts "4000" (ms) or "10s".
func ParseMilliseconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms > maxMilliseconds || ms < -maxMilliseconds {
			return 0, fmt.Errorf("invalid duration %q: out of range", raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// StringList accepts either a sequence of strings or a single whitespace
// separated string.
type StringList []string

func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = strings.Fields(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*s = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
}

// EnvMap is an environment block. Values may be any scalar; numbers and
// booleans are kept in their literal form.
type EnvMap map[string]string

func (e *EnvMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: env must be a mapping", value.Line)
	}
	env := make(EnvMap, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		k, v := value.Content[i], value.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: env value for %q must be a scalar", v.Line, k.Value)
		}
		if v.Tag == "!!null" {
			env[k.Value] = ""
			continue
		}
		env[k.Value] = v.Value
	}
	*e = env
	return nil
}

// WatchSpec is either a boolean (watch the working directory) or a list of
// paths to watch.
type WatchSpec struct {
	Enabled bool
	Paths   []string
}

func (w *WatchSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!bool" {
			return value.Decode(&w.Enabled)
		}
		w.Enabled = value.Value != ""
		if w.Enabled {
			w.Paths = []string{value.Value}
		}
		return nil
	case yaml.SequenceNode:
		if err := value.Decode(&w.Paths); err != nil {
			return err
		}
		w.Enabled = len(w.Paths) > 0
		return nil
	}
	return fmt.Errorf("line %d: watch must be a boolean or a list of paths", value.Line)
}

// Instances is an instance count; "max" or -1 means one per CPU.
type Instances int

func (n *Instances) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: instances must be a scalar", value.Line)
	}
	if strings.EqualFold(value.Value, "max") {
		*n = -1
		return nil
	}
	i, err := strconv.Atoi(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid instances %q", value.Line, value.Value)
	}
	*n = Instances(i)
	return nil
}
