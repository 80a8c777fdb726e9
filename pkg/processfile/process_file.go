package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/process"
)

const DefaultAppName = "hsu-procman"

// ProcessFileConfig controls where pid files and the daemon lock live
type ProcessFileConfig struct {
	// Base directory. If empty, an OS-appropriate default for the service context
	BaseDirectory string `yaml:"base_directory,omitempty"`

	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	AppName string `yaml:"app_name,omitempty"`

	// Put files in an <AppName> subdirectory of the base directory
	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

// ServiceContext defines the context in which the daemon runs
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// ProcessFileManager maintains one pid file per running process handle plus
// the lock file that keeps a second daemon from managing the same apps.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Directory is where every file of this manager is placed
func (m *ProcessFileManager) Directory() string {
	baseDir := m.getBaseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return baseDir
}

// GeneratePIDFilePath returns the pid file of a handle ("backend-0")
func (m *ProcessFileManager) GeneratePIDFilePath(handleID string) string {
	return filepath.Join(m.Directory(), "pids", handleID+".pid")
}

// GenerateLockFilePath returns the daemon lock file
func (m *ProcessFileManager) GenerateLockFilePath() string {
	return filepath.Join(m.Directory(), m.config.AppName+".lock")
}

func (m *ProcessFileManager) WritePIDFile(handleID string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(handleID)
	m.logger.Debugf("Writing PID file, handle: %s, pid: %d, path: %s", handleID, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, handle: %s, path: %s, error: %v", handleID, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, handle: %s, pid: %d, path: %s, error: %v", handleID, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, handle: %s, pid: %d, path: %s", handleID, pid, pidFilePath)
	return nil
}

func (m *ProcessFileManager) ReadPIDFile(handleID string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(handleID)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pid, err := process.ValidatePID(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath)
	}
	return pid, nil
}

// RemovePIDFile deletes the pid file of a handle; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(handleID string) error {
	pidFilePath := m.GeneratePIDFilePath(handleID)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, handle: %s, path: %s, error: %v", handleID, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// ListPIDFiles returns the handle ids that currently have a pid file
func (m *ProcessFileManager) ListPIDFiles() ([]string, error) {
	dir := filepath.Join(m.Directory(), "pids")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to list PID files", err).WithContext("directory", dir)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pid") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".pid"))
	}
	return ids, nil
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemServiceDirectory()
	case SessionService:
		return sessionServiceDirectory()
	default:
		return userServiceDirectory()
	}
}

func systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return programData
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, "AppData", "Local")
		}
		return os.TempDir()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func sessionServiceDirectory() string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return os.TempDir()
	}
	sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
	if _, err := os.Stat(sessionDir); err == nil {
		return sessionDir
	}
	return os.TempDir()
}

// ValidatePIDFileDirectory creates the directory of pidFilePath if needed and
// checks that it is writable.
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}

// GetRecommendedProcessFileConfig returns the layout for a deployment scenario
func GetRecommendedProcessFileConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "system", "daemon", "service":
		return ProcessFileConfig{ServiceContext: SystemService, AppName: appName, UseSubdirectory: true}
	case "session", "desktop":
		return ProcessFileConfig{ServiceContext: SessionService, AppName: appName}
	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:  filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext: UserService,
			AppName:        appName,
		}
	default:
		return ProcessFileConfig{ServiceContext: UserService, AppName: appName, UseSubdirectory: true}
	}
}
