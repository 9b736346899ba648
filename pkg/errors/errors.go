// Package errors defines the typed error domain shared by every package in
// this module. Errors carry a type discriminator, an optional wrapped cause,
// and key/value context for diagnostics. Callers branch on the type via
// TypeOf or the Is* helpers, never by matching message text.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType discriminates the error taxonomy.
type ErrorType string

const (
	// Package codec and installation.
	ErrorTypeFormat           ErrorType = "format"
	ErrorTypeIntegrity        ErrorType = "integrity"
	ErrorTypePlatformMismatch ErrorType = "platform_mismatch"
	ErrorTypePathTraversal    ErrorType = "path_traversal"
	ErrorTypeInstallConflict  ErrorType = "install_conflict"

	// Registry and lifecycle.
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeStillRunning   ErrorType = "still_running"
	ErrorTypeSpawn          ErrorType = "spawn"
	ErrorTypeAlreadyRunning ErrorType = "already_running"
	ErrorTypeNotRunning     ErrorType = "not_running"
	ErrorTypeStaleLock      ErrorType = "stale_lock"

	// Scripting and configuration.
	ErrorTypeScript            ErrorType = "script"
	ErrorTypeUndefinedVariable ErrorType = "undefined_variable"

	// Command interpreter.
	ErrorTypeParse       ErrorType = "parse"
	ErrorTypeNoSelection ErrorType = "no_selection"

	// General-purpose kinds for ambient failures.
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
)

type contextEntry struct {
	key   string
	value interface{}
}

// DomainError is the concrete error type returned by all packages.
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	context []contextEntry
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.context) > 0 {
		b.WriteString(" (")
		for i, c := range e.context {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", c.key, c.value)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns the same error so
// calls can chain. Insertion order is preserved in the message.
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	e.context = append(e.context, contextEntry{key: key, value: value})
	return e
}

// Context returns the value recorded for key, if any.
func (e *DomainError) Context(key string) (interface{}, bool) {
	for _, c := range e.context {
		if c.key == key {
			return c.value, true
		}
	}
	return nil, false
}

func newError(t ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    t,
		Message: message,
		Cause:   cause,
	}
}

func NewFormatError(message string, cause error) *DomainError {
	return newError(ErrorTypeFormat, message, cause)
}

func NewIntegrityError(message string, cause error) *DomainError {
	return newError(ErrorTypeIntegrity, message, cause)
}

func NewPlatformMismatchError(message string, cause error) *DomainError {
	return newError(ErrorTypePlatformMismatch, message, cause)
}

func NewPathTraversalError(message string, cause error) *DomainError {
	return newError(ErrorTypePathTraversal, message, cause)
}

func NewInstallConflictError(message string, cause error) *DomainError {
	return newError(ErrorTypeInstallConflict, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return newError(ErrorTypeNotFound, message, cause)
}

func NewStillRunningError(message string, cause error) *DomainError {
	return newError(ErrorTypeStillRunning, message, cause)
}

func NewSpawnError(message string, cause error) *DomainError {
	return newError(ErrorTypeSpawn, message, cause)
}

func NewAlreadyRunningError(message string, cause error) *DomainError {
	return newError(ErrorTypeAlreadyRunning, message, cause)
}

func NewNotRunningError(message string, cause error) *DomainError {
	return newError(ErrorTypeNotRunning, message, cause)
}

func NewStaleLockError(message string, cause error) *DomainError {
	return newError(ErrorTypeStaleLock, message, cause)
}

func NewScriptError(message string, cause error) *DomainError {
	return newError(ErrorTypeScript, message, cause)
}

func NewUndefinedVariableError(message string, cause error) *DomainError {
	return newError(ErrorTypeUndefinedVariable, message, cause)
}

func NewParseError(message string, cause error) *DomainError {
	return newError(ErrorTypeParse, message, cause)
}

func NewNoSelectionError(message string, cause error) *DomainError {
	return newError(ErrorTypeNoSelection, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return newError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return newError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return newError(ErrorTypeInternal, message, cause)
}

// TypeOf walks the wrap chain and returns the first DomainError type.
// Plain errors report ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorTypeInternal
}

// HasType reports whether err (or anything it wraps) carries type t.
func HasType(err error, t ErrorType) bool {
	var de *DomainError
	for errors.As(err, &de) {
		if de.Type == t {
			return true
		}
		err = de.Cause
		if err == nil {
			break
		}
	}
	return false
}

func IsNotFound(err error) bool       { return HasType(err, ErrorTypeNotFound) }
func IsAlreadyRunning(err error) bool { return HasType(err, ErrorTypeAlreadyRunning) }
func IsNotRunning(err error) bool     { return HasType(err, ErrorTypeNotRunning) }
func IsStaleLock(err error) bool      { return HasType(err, ErrorTypeStaleLock) }
func IsStillRunning(err error) bool   { return HasType(err, ErrorTypeStillRunning) }
func IsNoSelection(err error) bool    { return HasType(err, ErrorTypeNoSelection) }
