package logcollection

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
)

const (
	FileMode = 0644
	DirMode  = 0755
)

// StreamType identifies where a line came from
type StreamType string

const (
	StreamStdout StreamType = "stdout"
	StreamStderr StreamType = "stderr"
)

// Streams are the output sinks of one process handle. They are opened when
// the handle is created and closed once it reaches Stopped or Errored.
type Streams struct {
	stdout io.Writer
	stderr io.Writer

	closers []io.Closer
	mutex   sync.Mutex
	closed  bool
}

// sink is one opened file shared by every category that points at it
type sink struct {
	mutex sync.Mutex
	file  *os.File
}

func (s *sink) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.file.Write(p)
}

func (s *sink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.file.Close()
}

// OpenLogs opens the out, error and combined logs of desc in append mode.
// Two categories configured with the same path share a single file.
func OpenLogs(desc *descriptor.ProcessDescriptor) (*Streams, error) {
	sinks := make(map[string]*sink)
	streams := &Streams{}

	open := func(path string) (*sink, error) {
		if path == "" {
			return nil, nil
		}
		key := filepath.Clean(path)
		if s, ok := sinks[key]; ok {
			return s, nil
		}
		file, err := openAppend(key)
		if err != nil {
			return nil, err
		}
		s := &sink{file: file}
		sinks[key] = s
		streams.closers = append(streams.closers, s)
		return s, nil
	}

	out, err := open(desc.OutLogPath)
	if err == nil {
		var errSink *sink
		errSink, err = open(desc.ErrorLogPath)
		if err == nil {
			var combined *sink
			combined, err = open(desc.CombinedLogPath)
			if err == nil {
				streams.stdout = newCategoryWriter(out, combined, desc.Timestamps)
				streams.stderr = newCategoryWriter(errSink, combined, desc.Timestamps)
				return streams, nil
			}
		}
	}

	streams.Close()
	return nil, errors.NewIOError("failed to open log files", err).WithContext("name", desc.Name)
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FileMode)
}

// newCategoryWriter fans a stream out to its own file and the combined file.
// Each destination gets its own timestamp state so partial lines interleaved
// from stdout and stderr do not confuse line tracking.
func newCategoryWriter(own, combined *sink, timestamps bool) io.Writer {
	var writers []io.Writer
	for _, s := range []*sink{own, combined} {
		if s == nil {
			continue
		}
		if timestamps {
			writers = append(writers, NewTimestampWriter(s))
		} else {
			writers = append(writers, s)
		}
	}
	switch len(writers) {
	case 0:
		return io.Discard
	case 1:
		return writers[0]
	}
	return io.MultiWriter(writers...)
}

// FallbackStreams forwards every output line to logger. It is used when the
// log files cannot be opened so output is never lost.
func FallbackStreams(logger logging.Logger, name string) *Streams {
	stdout := NewLoggerWriter(logger, name, StreamStdout)
	stderr := NewLoggerWriter(logger, name, StreamStderr)
	return &Streams{
		stdout:  stdout,
		stderr:  stderr,
		closers: []io.Closer{stdout, stderr},
	}
}

func (s *Streams) Stdout() io.Writer {
	return s.stdout
}

func (s *Streams) Stderr() io.Writer {
	return s.stderr
}

// Close flushes pending partial lines and closes every file. Safe to call twice.
func (s *Streams) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	errs := errors.NewErrorCollection()
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs.Add(errors.NewIOError("failed to close log stream", err))
		}
	}
	return errs.ToError()
}
