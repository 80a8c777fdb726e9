package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeConfig          ErrorType = "config"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeSpawn           ErrorType = "spawn"
	ErrorTypePermission      ErrorType = "permission"
	ErrorTypeIO              ErrorType = "io"
	ErrorTypePolicyExhausted ErrorType = "policy_exhausted"
	ErrorTypeShutdownTimeout ErrorType = "shutdown_timeout"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeCancelled       ErrorType = "cancelled"
	ErrorTypeInternal        ErrorType = "internal"
)

var knownTypes = []ErrorType{
	ErrorTypeConfig,
	ErrorTypeValidation,
	ErrorTypeSpawn,
	ErrorTypePermission,
	ErrorTypeIO,
	ErrorTypePolicyExhausted,
	ErrorTypeShutdownTimeout,
	ErrorTypeTimeout,
	ErrorTypeNotFound,
	ErrorTypeConflict,
	ErrorTypeNetwork,
	ErrorTypeCancelled,
	ErrorTypeInternal,
}

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Configuration errors
func NewConfigError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfig, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

// Process errors
func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewPolicyExhaustedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePolicyExhausted, message, cause)
}

func NewShutdownTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeShutdownTimeout, message, cause)
}

// Lookup errors
func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// System errors
func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Error checking helpers
func IsConfigError(err error) bool {
	return hasType(err, ErrorTypeConfig)
}

func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func IsSpawnError(err error) bool {
	return hasType(err, ErrorTypeSpawn)
}

func IsPermissionError(err error) bool {
	return hasType(err, ErrorTypePermission)
}

func IsPolicyExhaustedError(err error) bool {
	return hasType(err, ErrorTypePolicyExhausted)
}

func IsShutdownTimeoutError(err error) bool {
	return hasType(err, ErrorTypeShutdownTimeout)
}

func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return hasType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return hasType(err, ErrorTypeCancelled)
}

// hasType reports whether any DomainError in the chain carries the given type.
// A ConfigError wrapping a ValidationError answers true for both.
func hasType(err error, errorType ErrorType) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, &DomainError{Type: errorType})
}

// TypeOf returns the type of the outermost DomainError in the chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrorTypeInternal
}

// ParseType recovers an error type from a rendered DomainError message
// ("spawn: command not found: ..."). Used on the client side of the control
// plane where only the message survives transport.
func ParseType(message string) (ErrorType, bool) {
	prefix, _, found := strings.Cut(message, ": ")
	if !found {
		prefix = message
	}
	for _, t := range knownTypes {
		if string(t) == prefix {
			return t, true
		}
	}
	return "", false
}

// Exit codes returned by the command line tools, one range per error kind.
const (
	ExitCodeOK              = 0
	ExitCodeGeneric         = 1
	ExitCodeConfig          = 10
	ExitCodeValidation      = 11
	ExitCodeSpawn           = 20
	ExitCodePermission      = 21
	ExitCodeIO              = 30
	ExitCodePolicyExhausted = 40
	ExitCodeShutdownTimeout = 50
	ExitCodeTimeout         = 51
	ExitCodeNotFound        = 60
	ExitCodeConflict        = 61
	ExitCodeNetwork         = 70
	ExitCodeCancelled       = 71
)

// ExitCode maps an error to the process exit code of its kind.
func ExitCode(err error) int {
	if err == nil {
		return ExitCodeOK
	}
	return ExitCodeForType(TypeOf(err))
}

func ExitCodeForType(errorType ErrorType) int {
	switch errorType {
	case ErrorTypeConfig:
		return ExitCodeConfig
	case ErrorTypeValidation:
		return ExitCodeValidation
	case ErrorTypeSpawn:
		return ExitCodeSpawn
	case ErrorTypePermission:
		return ExitCodePermission
	case ErrorTypeIO:
		return ExitCodeIO
	case ErrorTypePolicyExhausted:
		return ExitCodePolicyExhausted
	case ErrorTypeShutdownTimeout:
		return ExitCodeShutdownTimeout
	case ErrorTypeTimeout:
		return ExitCodeTimeout
	case ErrorTypeNotFound:
		return ExitCodeNotFound
	case ErrorTypeConflict:
		return ExitCodeConflict
	case ErrorTypeNetwork:
		return ExitCodeNetwork
	case ErrorTypeCancelled:
		return ExitCodeCancelled
	}
	return ExitCodeGeneric
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
