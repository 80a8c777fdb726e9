package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingFuncs struct {
	lines []string
}

func (r *recordingFuncs) record(level string) LogFunc {
	return func(format string, args ...interface{}) {
		r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
	}
}

func TestNewLogger_Prefix(t *testing.T) {
	rec := &recordingFuncs{}
	logger := NewLogger("app: backend , ", LogFuncs{
		Debugf: rec.record("debug"),
		Infof:  rec.record("info"),
		Warnf:  rec.record("warn"),
		Errorf: rec.record("error"),
	})

	logger.Infof("started, pid: %d", 42)
	logger.Errorf("exited, code: %d", 1)
	logger.LogLevelf(LogLevelWarn, "slow")

	assert.Equal(t, []string{
		"info app: backend , started, pid: 42",
		"error app: backend , exited, code: 1",
		"warn app: backend , slow",
	}, rec.lines)
}

func TestNewLogger_MissingFuncsAreIgnored(t *testing.T) {
	logger := NewLogger("", LogFuncs{})
	assert.NotPanics(t, func() {
		logger.Debugf("x")
		logger.Infof("x")
		logger.Warnf("x")
		logger.Errorf("x")
	})
	assert.NotPanics(t, func() { NewNopLogger().Infof("x") })
}

func TestWithPrefix_Nests(t *testing.T) {
	rec := &recordingFuncs{}
	root := NewLogger("module: procman , ", LogFuncs{Infof: rec.record("info")})
	child := WithPrefix(root, "app: web , ")

	child.Infof("hello")

	require.Len(t, rec.lines, 1)
	assert.Equal(t, "info module: procman , app: web , hello", rec.lines[0])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestZapLogger_ImplementsLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLoggerFrom(zap.New(core))

	var l Logger = logger
	l.Debugf("d %d", 1)
	l.Infof("i %d", 2)
	l.Warnf("w %d", 3)
	l.Errorf("e %d", 4)
	l.LogLevelf(LogLevelInfo, "lvl %s", "info")

	entries := logs.All()
	require.Len(t, entries, 5)
	assert.Equal(t, "d 1", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "lvl info", entries[4].Message)
}

func TestZapLogger_WithFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLoggerFrom(zap.New(core)).With(zap.String("app", "backend"))

	logger.Infof("transition")

	entries := logs.FilterField(zap.String("app", "backend")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "transition", entries[0].Message)
}

func TestNewZapLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procman.log")

	logger, err := NewZapLogger(ZapConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Infof("hello %s", "file")
	logger.Debugf("filtered")
	_ = logger.Sync()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"hello file"`)
	assert.Contains(t, string(content), `"timestamp"`)
	assert.NotContains(t, string(content), "filtered")
}

func TestNewZapLogger_InvalidConfig(t *testing.T) {
	_, err := NewZapLogger(ZapConfig{Level: "nope"})
	assert.Error(t, err)

	_, err = NewZapLogger(ZapConfig{Format: "xml"})
	assert.Error(t, err)
}
