package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig      = "CONFIG"
	ErrConnect     = "CONNECT"
	ErrExec        = "EXEC"
	ErrParse       = "PARSE"
	ErrConcurrency = "CONCURRENCY"
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// It renders as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error

	// Timeout marks failures caused by a connect or command deadline.
	Timeout bool
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrConnect code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrConnect,
		Message: message,
		Cause:   err,
		Timeout: isTimeoutCause(err),
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
		Timeout:    isTimeoutCause(err),
	}
}

// NewTimeout creates an error flagged as a timeout.
func NewTimeout(code, message, suggestion string) *Error {
	e := New(code, message, suggestion)
	e.Timeout = true
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	// First line: failure symbol + main message
	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	// Include cause if present (why it failed)
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	// Include suggestion if present (how to fix)
	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Summary returns a single-line description suitable for table cells and logs.
func (e *Error) Summary() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + firstLine(e.Cause.Error())
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost structured Error in the chain,
// or an empty string if there is none.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTimeout reports whether err was caused by a deadline, either flagged on a
// structured Error or coming from context/net.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) && e.Timeout {
		return true
	}
	return isTimeoutCause(err)
}

// Summary returns a one-line message for any error.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Summary()
	}
	return firstLine(err.Error())
}

func isTimeoutCause(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstLine(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "✗ "))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
