package process

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/processstate"
)

const DefaultWaitDelay = 5 * time.Second

const startFailureKey = "start_failure"

// IsStartFailure reports whether a spawn error happened after the command and
// working directory were resolved, i.e. the OS refused to start the process.
// Such failures may be transient; resolution failures are not.
func IsStartFailure(err error) bool {
	var domainErr *errors.DomainError
	if !stderrors.As(err, &domainErr) {
		return false
	}
	failed, _ := domainErr.Context[startFailureKey].(bool)
	return failed
}

// StdSpawner starts processes with os/exec, each in its own process group
type StdSpawner struct {
	logger logging.Logger
}

func NewStdSpawner(logger logging.Logger) *StdSpawner {
	return &StdSpawner{logger: logger}
}

func (s *StdSpawner) Spawn(ctx context.Context, execution ExecutionConfig) (Process, error) {
	id := execution.ID

	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("spawn cancelled", err).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		s.logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewSpawnError("invalid execution configuration", err).WithContext("id", id)
	}

	workDir, err := ResolveWorkingDirectory(execution.WorkingDirectory)
	if err != nil {
		return nil, errors.NewSpawnError("working directory not found", err).WithContext("id", id).WithContext("working_directory", execution.WorkingDirectory)
	}

	executable, err := ResolveExecutable(execution.Command, workDir)
	if err != nil {
		return nil, errors.NewSpawnError("command not found", err).WithContext("id", id).WithContext("command", execution.Command)
	}

	s.logger.Debugf("Executing process, id: %s, executable: '%s', args: %v, working directory: '%s'",
		id, executable, execution.Args, workDir)

	env := os.Environ()
	env = append(env, execution.Environment...)

	cmd := exec.Command(executable, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = env
	cmd.Stdout = writerOrDiscard(execution.Stdout)
	cmd.Stderr = writerOrDiscard(execution.Stderr)

	// Platform-specific setup is in execute_unix.go / execute_windows.go
	setupProcessAttributes(cmd)

	// Bounds Wait when grandchildren keep the output pipes open
	cmd.WaitDelay = execution.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("id", id).
			WithContext("executable", executable).
			WithContext(startFailureKey, true)
	}

	p := &stdProcess{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go p.wait()

	s.logger.Infof("Successfully executed process, id: %s, PID: %d", id, p.pid)

	return p, nil
}

// ResolveWorkingDirectory checks that dir exists and is a directory
func ResolveWorkingDirectory(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	return dir, nil
}

// ResolveExecutable locates command. Commands containing a path separator are
// taken relative to workDir; bare names are looked up in PATH.
func ResolveExecutable(command, workDir string) (string, error) {
	if !strings.ContainsRune(command, '/') && !strings.ContainsRune(command, filepath.Separator) {
		return exec.LookPath(command)
	}

	path := command
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	if err := ensureExecutable(path); err != nil {
		return "", err
	}
	return path, nil
}

// ensureExecutable checks that a file exists and carries an execute bit
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}
	if info.IsDir() {
		return errors.NewIOError("path is a directory", nil).WithContext("path", path)
	}

	// On Windows, the extension decides
	if runtime.GOOS == "windows" {
		return nil
	}

	if info.Mode()&0111 == 0 {
		return errors.NewPermissionError("file is not executable", nil).WithContext("path", path)
	}
	return nil
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

type stdProcess struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mutex  sync.Mutex
	status ExitStatus
}

func (p *stdProcess) wait() {
	err := p.cmd.Wait()
	status := exitStatusFromState(p.cmd.ProcessState, err)

	p.mutex.Lock()
	p.status = status
	p.mutex.Unlock()

	close(p.done)
}

func (p *stdProcess) Pid() int {
	return p.pid
}

func (p *stdProcess) Done() <-chan struct{} {
	return p.done
}

func (p *stdProcess) ExitStatus() ExitStatus {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.status
}

// Alive reports whether the OS still knows the process as running
func (p *stdProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	running, err := processstate.IsProcessRunning(p.pid)
	return err == nil && running
}

func (p *stdProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return sendTerminationSignal(p.cmd.Process)
}

func (p *stdProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return sendKillSignal(p.cmd.Process)
}

func exitStatusFromState(state *os.ProcessState, waitErr error) ExitStatus {
	status := ExitStatus{
		ExitCode: -1,
		ExitedAt: time.Now(),
	}

	if _, isExitErr := waitErr.(*exec.ExitError); waitErr != nil && !isExitErr {
		status.Err = waitErr
	}
	if state == nil {
		return status
	}

	status.ExitCode = state.ExitCode()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status.Signaled = true
		status.Signal = ws.Signal().String()
	}
	return status
}
