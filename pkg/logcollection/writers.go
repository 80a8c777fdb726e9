package logcollection

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-procman/pkg/logging"
)

const TimestampLayout = "2006-01-02T15:04:05"

// TimestampWriter prefixes every line with the time its first byte was
// written. Output is written through immediately, without line buffering.
type TimestampWriter struct {
	w         io.Writer
	now       func() time.Time
	mutex     sync.Mutex
	lineStart bool
}

func NewTimestampWriter(w io.Writer) *TimestampWriter {
	return &TimestampWriter{w: w, now: time.Now, lineStart: true}
}

func (t *TimestampWriter) Write(p []byte) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var buf bytes.Buffer
	for _, b := range p {
		if t.lineStart {
			buf.WriteString(t.now().Format(TimestampLayout))
			buf.WriteString(": ")
			t.lineStart = false
		}
		buf.WriteByte(b)
		if b == '\n' {
			t.lineStart = true
		}
	}

	if _, err := t.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LoggerWriter splits output into lines and hands them to a logger, stdout at
// info level and stderr at warn level.
type LoggerWriter struct {
	logger  logging.Logger
	name    string
	stream  StreamType
	mutex   sync.Mutex
	pending []byte
}

func NewLoggerWriter(logger logging.Logger, name string, stream StreamType) *LoggerWriter {
	return &LoggerWriter{logger: logger, name: name, stream: stream}
}

func (l *LoggerWriter) Write(p []byte) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.pending = append(l.pending, p...)
	for {
		i := bytes.IndexByte(l.pending, '\n')
		if i < 0 {
			break
		}
		l.emit(string(l.pending[:i]))
		l.pending = l.pending[i+1:]
	}
	return len(p), nil
}

// Close emits a trailing partial line
func (l *LoggerWriter) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if len(l.pending) > 0 {
		l.emit(string(l.pending))
		l.pending = nil
	}
	return nil
}

func (l *LoggerWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if l.stream == StreamStderr {
		l.logger.Warnf("[%s][%s] %s", l.name, l.stream, line)
		return
	}
	l.logger.Infof("[%s][%s] %s", l.name, l.stream, line)
}
