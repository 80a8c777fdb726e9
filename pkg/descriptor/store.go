package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Store holds every descriptor of an ecosystem file. It is built once by Load
// and never mutated afterwards, so it can be shared between goroutines.
type Store struct {
	path        string
	baseDir     string
	descriptors []*ProcessDescriptor
	byName      map[string]*ProcessDescriptor
	deploy      map[string]DeployTarget
}

// LoadFile reads and validates an ecosystem file. Relative paths inside it
// resolve against the file's directory.
func LoadFile(filename string) (*Store, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewConfigError("failed to read configuration file", err).WithContext("filename", filename)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, errors.NewConfigError("failed to resolve configuration path", err).WithContext("filename", filename)
	}

	store, err := Load(data, filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}
	store.path = absPath
	return store, nil
}

// Load parses raw configuration. Any parse or validation problem is returned
// as a single ConfigError listing every invalid app.
func Load(raw []byte, baseDir string) (*Store, error) {
	var config EcosystemConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, errors.NewConfigError("failed to parse configuration", err)
	}
	return Build(config, baseDir)
}

// Build validates a decoded configuration and produces the store.
func Build(config EcosystemConfig, baseDir string) (*Store, error) {
	if len(config.Apps) == 0 {
		return nil, errors.NewConfigError("configuration must declare at least one app", nil)
	}

	store := &Store{
		baseDir:     baseDir,
		descriptors: make([]*ProcessDescriptor, 0, len(config.Apps)),
		byName:      make(map[string]*ProcessDescriptor, len(config.Apps)),
		deploy:      make(map[string]DeployTarget, len(config.Deploy)),
	}

	problems := errors.NewErrorCollection()
	seenNames := make(map[string]int)

	for i, app := range config.Apps {
		if err := ValidateApp(app); err != nil {
			problems.Add(errors.NewValidationError(fmt.Sprintf("app at index %d", i), err).WithContext("index", i).WithContext("name", app.Name))
			continue
		}
		if prev, exists := seenNames[app.Name]; exists {
			problems.Add(errors.NewValidationError(
				fmt.Sprintf("duplicate app name '%s' found at indices %d and %d", app.Name, prev, i), nil,
			).WithContext("name", app.Name))
			continue
		}
		seenNames[app.Name] = i

		desc := newDescriptor(app, baseDir)
		store.descriptors = append(store.descriptors, desc)
		store.byName[desc.Name] = desc
	}

	for env, deploy := range config.Deploy {
		store.deploy[env] = DeployTarget{
			Environment:    env,
			User:           deploy.User,
			Hosts:          append([]string(nil), deploy.Host...),
			Ref:            deploy.Ref,
			Repo:           deploy.Repo,
			Path:           deploy.Path,
			PreDeployLocal: deploy.PreDeployLocal,
			PreDeploy:      deploy.PreDeploy,
			PostDeploy:     deploy.PostDeploy,
			PreSetup:       deploy.PreSetup,
			PostSetup:      deploy.PostSetup,
		}
	}

	if problems.HasErrors() {
		return nil, errors.NewConfigError("invalid configuration", problems.ToError())
	}
	return store, nil
}

func newDescriptor(app AppConfig, baseDir string) *ProcessDescriptor {
	workingDir := resolvePath(baseDir, app.Cwd)
	if workingDir == "" {
		workingDir = baseDir
	}

	desc := &ProcessDescriptor{
		Name:                   app.Name,
		Script:                 app.Script,
		Args:                   append([]string(nil), app.Args...),
		Interpreter:            app.Interpreter,
		InterpreterArgs:        append([]string(nil), app.InterpreterArgs...),
		WorkingDir:             workingDir,
		Env:                    copyEnv(app.Env),
		ModeEnv:                make(map[string]map[string]string, len(app.ModeEnv)),
		Timestamps:             app.Time,
		MaxMemoryBytes:         int64(app.MaxMemoryRestart),
		RestartDelay:           app.RestartDelay.Duration(),
		ExpBackoffRestartDelay: app.ExpBackoffDelay.Duration(),
		MinUptime:              DefaultMinUptime,
		KillTimeout:            DefaultKillTimeout,
		MaxRestarts:            DefaultMaxRestarts,
		Autorestart:            true,
		Instances:              int(app.Instances),
		ExecMode:               normalizeExecMode(app.ExecMode),
	}

	for mode, env := range app.ModeEnv {
		desc.ModeEnv[mode] = copyEnv(env)
	}
	desc.EnvProduction = desc.ModeEnv[string(EnvironmentProduction)]
	if desc.EnvProduction == nil {
		desc.EnvProduction = map[string]string{}
	}

	if app.Autorestart != nil {
		desc.Autorestart = *app.Autorestart
	}
	if app.MinUptime != nil {
		desc.MinUptime = app.MinUptime.Duration()
	}
	if app.KillTimeout != nil {
		desc.KillTimeout = app.KillTimeout.Duration()
	}
	if app.MaxRestarts != nil {
		desc.MaxRestarts = *app.MaxRestarts
	}

	switch {
	case desc.Instances == 0:
		desc.Instances = 1
	case desc.Instances < 0:
		desc.Instances = runtime.NumCPU()
	}

	logDir := filepath.Join(baseDir, "logs")
	desc.OutLogPath = resolvePath(baseDir, app.OutFile)
	if desc.OutLogPath == "" {
		desc.OutLogPath = filepath.Join(logDir, app.Name+"-out.log")
	}
	desc.ErrorLogPath = resolvePath(baseDir, app.ErrorFile)
	if desc.ErrorLogPath == "" {
		desc.ErrorLogPath = filepath.Join(logDir, app.Name+"-error.log")
	}
	desc.CombinedLogPath = resolvePath(baseDir, app.LogFile)

	if app.Watch.Enabled {
		if len(app.Watch.Paths) == 0 {
			desc.Watch = []string{workingDir}
		} else {
			for _, p := range app.Watch.Paths {
				desc.Watch = append(desc.Watch, resolvePath(workingDir, p))
			}
		}
		desc.IgnoreWatch = append([]string(nil), app.IgnoreWatch...)
	}

	return desc
}

func normalizeExecMode(mode string) ExecMode {
	switch strings.TrimSuffix(strings.ToLower(mode), "_mode") {
	case "cluster":
		return ExecModeCluster
	default:
		return ExecModeFork
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(baseDir, path)
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Path is the absolute path of the loaded file, empty for in-memory configs
func (s *Store) Path() string {
	return s.path
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

// Names returns app names in declaration order
func (s *Store) Names() []string {
	names := make([]string, len(s.descriptors))
	for i, d := range s.descriptors {
		names[i] = d.Name
	}
	return names
}

// All returns descriptors in declaration order. Callers must treat them as read-only.
func (s *Store) All() []*ProcessDescriptor {
	return append([]*ProcessDescriptor(nil), s.descriptors...)
}

func (s *Store) Get(name string) (*ProcessDescriptor, error) {
	desc, ok := s.byName[name]
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("no app named '%s'", name), nil).WithContext("name", name)
	}
	return desc, nil
}

func (s *Store) Len() int {
	return len(s.descriptors)
}

// DeployEnvironments returns the names of all deploy blocks, sorted
func (s *Store) DeployEnvironments() []string {
	envs := make([]string, 0, len(s.deploy))
	for env := range s.deploy {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	return envs
}

func (s *Store) DeployTarget(environment string) (DeployTarget, error) {
	target, ok := s.deploy[environment]
	if !ok {
		return DeployTarget{}, errors.NewNotFoundError(fmt.Sprintf("no deploy target for environment '%s'", environment), nil).WithContext("environment", environment)
	}
	target.Hosts = append([]string(nil), target.Hosts...)
	return target, nil
}
