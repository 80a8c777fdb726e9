package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_EmitsDebouncedChange(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, Config{Paths: []string{dir}, Debounce: 50 * time.Millisecond}, logging.NewNopLogger())
	require.NoError(t, err)

	target := filepath.Join(dir, "server.js")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(target, []byte("b"), 0644))

	select {
	case change := <-w.Changes:
		assert.Equal(t, []string{target}, change.Paths)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case change := <-w.Changes:
		t.Fatalf("unexpected second change: %v", change.Paths)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresPatterns(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, Config{
		Paths:    []string{dir},
		Ignore:   []string{"logs", "*.tmp"},
		Debounce: 50 * time.Millisecond,
	}, logging.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "out.log"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "pkg", "index.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("x"), 0644))

	select {
	case change := <-w.Changes:
		t.Fatalf("ignored paths triggered a change: %v", change.Paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_Ignored(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, Config{Paths: []string{dir}, Ignore: []string{"dist", filepath.Join(dir, "abs")}}, logging.NewNopLogger())
	require.NoError(t, err)

	tests := []struct {
		path    string
		ignored bool
	}{
		{filepath.Join(dir, "index.js"), false},
		{filepath.Join(dir, "src", "app.ts"), false},
		{filepath.Join(dir, "dist", "bundle.js"), true},
		{filepath.Join(dir, "node_modules", "x", "y.js"), true},
		{filepath.Join(dir, ".git", "HEAD"), true},
		{filepath.Join(dir, "abs", "file"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ignored, w.Ignored(tt.path), tt.path)
	}
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWatcher(ctx, Config{Paths: []string{t.TempDir()}}, logging.NewNopLogger())
	require.NoError(t, err)

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcher_Errors(t *testing.T) {
	_, err := NewWatcher(context.Background(), Config{}, logging.NewNopLogger())
	assert.True(t, errors.IsValidationError(err))

	_, err = NewWatcher(context.Background(), Config{Paths: []string{filepath.Join(t.TempDir(), "missing")}}, logging.NewNopLogger())
	assert.True(t, errors.IsIOError(err))
}
