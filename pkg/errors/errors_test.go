package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Format(t *testing.T) {
	err := NewSpawnError("command not found", fmt.Errorf("exec: \"npmx\": not found"))
	assert.Equal(t, "spawn: command not found: exec: \"npmx\": not found", err.Error())

	err = NewConfigError("duplicate app name", nil)
	assert.Equal(t, "config: duplicate app name", err.Error())
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewIOError("failed to open log", nil).WithContext("path", "/tmp/x.log").WithContext("name", "backend")
	assert.Equal(t, "/tmp/x.log", err.Context["path"])
	assert.Equal(t, "backend", err.Context["name"])
}

func TestDomainError_IsAndAs(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewPolicyExhaustedError("too many restarts", cause))

	assert.True(t, errors.Is(err, &DomainError{Type: ErrorTypePolicyExhausted}))
	assert.False(t, errors.Is(err, &DomainError{Type: ErrorTypeSpawn}))
	assert.True(t, errors.Is(err, cause))

	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, ErrorTypePolicyExhausted, domainErr.Type)
}

func TestIsHelpers_WalkNestedDomainErrors(t *testing.T) {
	err := NewConfigError("invalid configuration", NewValidationError("name is required", nil))

	assert.True(t, IsConfigError(err))
	assert.True(t, IsValidationError(err))
	assert.False(t, IsSpawnError(err))
	assert.False(t, IsIOError(nil))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeShutdownTimeout, TypeOf(NewShutdownTimeoutError("forced kill", nil)))
	assert.Equal(t, ErrorTypeConfig, TypeOf(NewConfigError("x", NewValidationError("y", nil))))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestParseType(t *testing.T) {
	tests := []struct {
		message  string
		expected ErrorType
		ok       bool
	}{
		{"spawn: command not found: exec failed", ErrorTypeSpawn, true},
		{"not_found: no process named 'x'", ErrorTypeNotFound, true},
		{"policy_exhausted: gave up", ErrorTypePolicyExhausted, true},
		{"config", ErrorTypeConfig, true},
		{"something else: entirely", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, ok := ParseType(tt.message)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitCodeOK},
		{"config", NewConfigError("bad", nil), ExitCodeConfig},
		{"spawn", NewSpawnError("missing", nil), ExitCodeSpawn},
		{"io", NewIOError("unwritable", nil), ExitCodeIO},
		{"policy exhausted", NewPolicyExhaustedError("ceiling", nil), ExitCodePolicyExhausted},
		{"shutdown timeout", NewShutdownTimeoutError("killed", nil), ExitCodeShutdownTimeout},
		{"not found", NewNotFoundError("x", nil), ExitCodeNotFound},
		{"network", NewNetworkError("x", nil), ExitCodeNetwork},
		{"plain error", errors.New("x"), ExitCodeGeneric},
		{"wrapped", fmt.Errorf("ctx: %w", NewIOError("x", nil)), ExitCodeIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCode(tt.err))
		})
	}
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(NewIOError("first", nil))
	collection.Add(NewShutdownTimeoutError("second", nil))
	require.True(t, collection.HasErrors())

	err := collection.ToError()
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.True(t, IsShutdownTimeoutError(err))
	assert.True(t, IsIOError(err))
}
