package daemon

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-procman/pkg/control"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/processfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const sleeperConfig = `
apps:
  - name: sleeper
    script: sleep
    args: "30"
    interpreter: none
    instances: 2
`

func writeConfig(t *testing.T, content string) (string, processfile.ProcessFileConfig) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ecosystem.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path, processfile.ProcessFileConfig{BaseDirectory: filepath.Join(dir, "run")}
}

func testLogger() *logging.ZapLogger {
	return logging.NewZapLoggerFrom(zap.NewNop())
}

func TestDaemon_ServesStatusOverControlPlane(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	configFile, files := writeConfig(t, sleeperConfig)

	d, err := New(Config{ConfigFile: configFile, ProcessFiles: files, ShutdownTimeout: 10 * time.Second}, testLogger())
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown(context.Background())

	conn, err := grpc.NewClient(d.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := control.NewGRPCClientGateway(conn, logging.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	statuses, err := client.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, "running", s.State)
		assert.Greater(t, s.PID, 0)
	}
	assert.Equal(t, "sleeper-0", statuses[0].ID)
	assert.Equal(t, "sleeper-1", statuses[1].ID)

	require.NoError(t, client.Stop(ctx, "sleeper-1"))
	statuses, err = client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stopped", statuses[1].State)
	assert.Equal(t, "running", statuses[0].State)

	err = client.Restart(ctx, "ghost")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDaemon_SecondInstanceIsRejected(t *testing.T) {
	configFile, files := writeConfig(t, sleeperConfig)

	first, err := New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.NoError(t, err)
	defer first.Shutdown(context.Background())

	_, err = New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	assert.Equal(t, errors.ExitCodeConflict, errors.ExitCode(err))
}

func TestDaemon_LockReleasedOnShutdown(t *testing.T) {
	configFile, files := writeConfig(t, sleeperConfig)

	first, err := New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(context.Background()))

	second, err := New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.NoError(t, err)
	require.NoError(t, second.Shutdown(context.Background()))
}

func TestNew_StateDirectoryIsAFile(t *testing.T) {
	configFile, files := writeConfig(t, sleeperConfig)
	require.NoError(t, os.WriteFile(files.BaseDirectory, nil, 0644))

	_, err := New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err), "got %v", err)
}

func TestNew_ReapsOrphanedProcesses(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	configFile, files := writeConfig(t, sleeperConfig)
	pidFiles := processfile.NewProcessFileManager(files, logging.NewNopLogger())

	orphan := exec.Command("sleep", "30")
	require.NoError(t, orphan.Start())
	exited := make(chan error, 1)
	go func() { exited <- orphan.Wait() }()

	require.NoError(t, pidFiles.WritePIDFile("sleeper-0", orphan.Process.Pid))
	require.NoError(t, pidFiles.WritePIDFile("sleeper-1", 999999))

	d, err := New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.NoError(t, err)
	defer d.Shutdown(context.Background())

	select {
	case err := <-exited:
		assert.Error(t, err, "orphan should have been killed")
	case <-time.After(5 * time.Second):
		orphan.Process.Kill()
		t.Fatal("orphaned process still running")
	}

	ids, err := pidFiles.ListPIDFiles()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNew_InvalidConfig(t *testing.T) {
	configFile, files := writeConfig(t, "apps:\n  - name: broken\n")

	_, err := New(Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	configFile, files := writeConfig(t, sleeperConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Run(ctx, Config{ConfigFile: configFile, ProcessFiles: files}, testLogger())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
