package descriptor

import (
	"regexp"

	"github.com/core-tools/hsu-procman/pkg/errors"
)

// AllApps is the selector for every app, so no app may carry it as a name
const AllApps = "all"

// instanceSuffix matches the "-<instance>" tail of a process id
var instanceSuffix = regexp.MustCompile(`-[0-9]+$`)

// ValidateApp validates a single app entry before it becomes a descriptor
func ValidateApp(app AppConfig) error {
	if err := ValidateName(app.Name); err != nil {
		return err
	}

	if app.Script == "" {
		return errors.NewValidationError("script cannot be empty", nil).WithContext("name", app.Name)
	}

	if app.MaxMemoryRestart < 0 {
		return errors.NewValidationError("max_memory_restart must be positive", nil).WithContext("name", app.Name)
	}

	if err := validateDuration(app.RestartDelay, "restart_delay"); err != nil {
		return err
	}
	if err := validateDuration(app.ExpBackoffDelay, "exp_backoff_restart_delay"); err != nil {
		return err
	}
	if app.MinUptime != nil {
		if err := validateDuration(*app.MinUptime, "min_uptime"); err != nil {
			return err
		}
	}
	if app.KillTimeout != nil {
		if err := validateDuration(*app.KillTimeout, "kill_timeout"); err != nil {
			return err
		}
	}

	if app.MaxRestarts != nil && *app.MaxRestarts < 0 {
		return errors.NewValidationError("max_restarts cannot be negative", nil).WithContext("name", app.Name)
	}

	if app.Instances < -1 {
		return errors.NewValidationError("instances must be -1 (one per CPU), 0 or positive", nil).WithContext("name", app.Name)
	}

	switch app.ExecMode {
	case "", "fork", "fork_mode", "cluster", "cluster_mode":
	default:
		return errors.NewValidationError("exec_mode must be 'fork' or 'cluster', got '"+app.ExecMode+"'", nil).WithContext("name", app.Name)
	}

	return nil
}

// ValidateName validates app name format and constraints
func ValidateName(name string) error {
	if name == "" {
		return errors.NewValidationError("name cannot be empty", nil)
	}

	if len(name) > 64 {
		return errors.NewValidationError("name cannot exceed 64 characters", nil)
	}

	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError("name contains invalid characters: only letters, numbers, dots, hyphens, and underscores are allowed", nil).WithContext("name", name)
		}
	}

	if name == AllApps {
		return errors.NewValidationError("name 'all' is reserved for selecting every app", nil).WithContext("name", name)
	}

	// Process ids are "<name>-<instance>"
	if instanceSuffix.MatchString(name) {
		return errors.NewValidationError("name cannot end in '-<number>', it would collide with process ids", nil).WithContext("name", name)
	}

	return nil
}

func validateDuration(d Milliseconds, field string) error {
	if d < 0 {
		return errors.NewValidationError(field+" cannot be negative", nil)
	}
	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}
