// Package watch restarts apps when files under their watch paths change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of changes (editor saves, builds) into one restart
const DefaultDebounce = 1000 * time.Millisecond

// DefaultIgnore is applied in addition to ignore_watch
var DefaultIgnore = []string{"node_modules", ".*"}

// Change is a batch of file events that should trigger a single restart
type Change struct {
	Paths []string
	At    time.Time
}

// Config describes what one watcher looks at
type Config struct {
	Paths    []string
	Ignore   []string
	Debounce time.Duration
}

// Watcher watches a set of paths recursively and emits debounced changes on
// Changes until its context is cancelled.
type Watcher struct {
	Changes chan Change

	w      *fsnotify.Watcher
	config Config
	logger logging.Logger

	done chan struct{}
}

// NewWatcher adds every path (and every directory below it that is not
// ignored) and starts watching in the background.
func NewWatcher(ctx context.Context, config Config, logger logging.Logger) (*Watcher, error) {
	if len(config.Paths) == 0 {
		return nil, errors.NewValidationError("no paths to watch", nil)
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	config.Ignore = append(append([]string{}, DefaultIgnore...), config.Ignore...)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create watcher", err)
	}

	w := &Watcher{
		Changes: make(chan Change, 1),
		w:       fw,
		config:  config,
		logger:  logger,
		done:    make(chan struct{}),
	}

	for _, path := range config.Paths {
		if err := w.addTree(path); err != nil {
			fw.Close()
			return nil, err
		}
	}

	go w.watch(ctx)
	return w, nil
}

// Done is closed once the watcher has released its resources
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.NewIOError("failed to stat watch path", err).WithContext("path", root)
	}
	if !info.IsDir() {
		if err := w.w.Add(root); err != nil {
			return errors.NewIOError("failed to watch file", err).WithContext("path", root)
		}
		return nil
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			w.logger.Debugf("Skipping unreadable watch path %s: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && w.Ignored(path) {
			return filepath.SkipDir
		}
		if err := w.w.Add(path); err != nil {
			return errors.NewIOError("failed to watch directory", err).WithContext("path", path)
		}
		return nil
	})
}

// Ignored reports whether path matches an ignore pattern. Patterns are
// matched against each component of the path below its watch root and
// against that relative path as a whole.
func (w *Watcher) Ignored(path string) bool {
	rel := w.relative(path)
	if matchesAny(rel, w.config.Ignore) {
		return true
	}
	for _, pattern := range w.config.Ignore {
		if filepath.IsAbs(pattern) && (path == pattern || strings.HasPrefix(path, pattern+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

func (w *Watcher) relative(path string) string {
	for _, root := range w.config.Paths {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rel
		}
	}
	return path
}

func matchesAny(path string, patterns []string) bool {
	clean := filepath.Clean(path)
	parts := strings.Split(filepath.ToSlash(clean), "/")
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, clean); ok {
			return true
		}
		if strings.HasPrefix(clean, filepath.Clean(pattern)+string(filepath.Separator)) {
			return true
		}
		for _, part := range parts {
			if part == "" || part == "." || part == ".." {
				continue
			}
			if ok, _ := filepath.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)
	defer w.w.Close()

	var (
		pending []string
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Watcher error: %v", err)

		case evt, ok := <-w.w.Events:
			if !ok {
				return
			}
			if !relevant(evt) || w.Ignored(evt.Name) {
				continue
			}
			if evt.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
					if err := w.addTree(evt.Name); err != nil {
						w.logger.Warnf("Failed to watch new directory %s: %v", evt.Name, err)
					}
				}
			}
			pending = append(pending, evt.Name)
			if timer == nil {
				timer = time.NewTimer(w.config.Debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.config.Debounce)
			}
			fire = timer.C

		case at := <-fire:
			fire = nil
			change := Change{Paths: dedupe(pending), At: at}
			pending = nil
			select {
			case w.Changes <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

func relevant(evt fsnotify.Event) bool {
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
