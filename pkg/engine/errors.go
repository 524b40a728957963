package engine

import (
	"errors"
	"fmt"
)

// ErrorClass determines how a failure propagates through the pipeline.
type ErrorClass string

const (
	// ErrorClassFatal means the pipeline cannot safely continue.
	// Examples: no network, insufficient disk space, a required tool entirely absent.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassWarning means a feature is degraded but the pipeline continues.
	// Examples: one optional package failed to install, a sync step skipped.
	ErrorClassWarning ErrorClass = "warning"

	// ErrorClassInfo marks an expected absence that only selects a branch,
	// such as a first run with no prior backup.
	ErrorClassInfo ErrorClass = "info"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Module is the module that produced the error, if applicable.
	Module string `json:"module,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Remediation is the exact command a user should run to fix the problem.
	Remediation string `json:"remediation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	switch {
	case e.Module != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (module=%s, operation=%s)", msg, e.Module, e.Operation)
	case e.Module != "":
		msg = fmt.Sprintf("%s (module=%s)", msg, e.Module)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
	}
}

// NewWarningError creates a new warning error.
func NewWarningError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassWarning,
		Message: message,
		Err:     err,
	}
}

// NewInfoError creates a new informational error.
func NewInfoError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInfo,
		Message: message,
		Err:     err,
	}
}

// WithModule adds module context to an error.
func (e *EngineError) WithModule(module string) *EngineError {
	e.Module = module
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithRemediation attaches the command that fixes the problem.
func (e *EngineError) WithRemediation(command string) *EngineError {
	e.Remediation = command
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	return ClassOf(err) == ErrorClassFatal
}

// IsWarning returns true if the error is classified as a warning.
func IsWarning(err error) bool {
	return ClassOf(err) == ErrorClassWarning
}

// IsInfo returns true if the error is informational.
func IsInfo(err error) bool {
	return ClassOf(err) == ErrorClassInfo
}

// ClassOf returns the class of a classified error. Unclassified errors
// are treated as fatal.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassFatal
}

// RemediationOf returns the remediation command carried by err, if any.
func RemediationOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Remediation
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeNetwork          = "NETWORK_UNAVAILABLE"
	ErrCodeDiskSpace        = "INSUFFICIENT_DISK"
	ErrCodeToolMissing      = "TOOL_MISSING"
	ErrCodeExternal         = "EXTERNAL_COMMAND_FAILED"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
