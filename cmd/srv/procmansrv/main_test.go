package main

import (
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-procman/pkg/processfile"

	"github.com/stretchr/testify/assert"
)

func TestRunCommand_ProcessFiles(t *testing.T) {
	system := (&runCommand{Scenario: "system"}).processFiles()
	assert.Equal(t, processfile.SystemService, system.ServiceContext)
	assert.True(t, system.UseSubdirectory)

	// No subcommand given leaves the scenario empty
	user := (&runCommand{}).processFiles()
	assert.Equal(t, processfile.UserService, user.ServiceContext)

	dir := filepath.Join(t.TempDir(), "state")
	explicit := (&runCommand{Scenario: "system", StateDir: dir}).processFiles()
	assert.Equal(t, dir, explicit.BaseDirectory)
	assert.False(t, explicit.UseSubdirectory)
	assert.Equal(t, filepath.Join(dir, "pids", "web-0.pid"),
		processfile.NewProcessFileManager(explicit, nil).GeneratePIDFilePath("web-0"))
}
