// Package skberr defines stable error codes shared across the engine.
package skberr

import (
	"errors"
	"fmt"
)

// Code represents a stable error code for a failure mode
type Code string

const (
	// EndpointPoolEmpty indicates the LLM endpoint pool has no enabled entries
	EndpointPoolEmpty Code = "ENDPOINT_POOL_EMPTY"
	// LlmExhausted indicates all LLM retries were consumed
	LlmExhausted Code = "LLM_EXHAUSTED"
	// LlmAuth indicates the LLM endpoint rejected the credential
	LlmAuth Code = "LLM_AUTH"
	// FileNotFound indicates a tracked source file does not exist
	FileNotFound Code = "FILE_NOT_FOUND"
	// FragmentParse indicates a markdown artifact could not be parsed at all
	FragmentParse Code = "FRAGMENT_PARSE"
	// GuardBackoff indicates work was skipped inside an active backoff window
	GuardBackoff Code = "GUARD_BACKOFF"
	// GuardQuota indicates work was skipped because a daily quota ran out
	GuardQuota Code = "GUARD_QUOTA"
	// StoreIO indicates a durable store read/write failure
	StoreIO Code = "STORE_IO"
	// ConfigInvalid indicates a missing or malformed configuration value
	ConfigInvalid Code = "CONFIG_INVALID"
	// Internal indicates an unexpected error
	Internal Code = "INTERNAL_ERROR"
)

// Error is the engine's typed error: a stable code, a human message,
// and an optional cause preserved for errors.Is/As chains.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates a new Error without a cause
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping a cause
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code from err, or Internal if err carries none
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// HasCode reports whether err carries the given code
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
