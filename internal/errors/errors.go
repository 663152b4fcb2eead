// Package errors defines stable error codes for all SDX failure modes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConventionViolation indicates a directory or file name doesn't match the naming grammar
	ConventionViolation ErrorCode = "CONVENTION_VIOLATION"
	// MetadataInvalid indicates a metadata document is missing a required field
	MetadataInvalid ErrorCode = "METADATA_INVALID"
	// MetadataMalformed indicates a metadata document could not be parsed
	MetadataMalformed ErrorCode = "METADATA_MALFORMED"
	// NotFound indicates the requested row doesn't exist
	NotFound ErrorCode = "NOT_FOUND"
	// Forbidden indicates a path escapes the configured workspace root
	Forbidden ErrorCode = "FORBIDDEN"
	// StoreIntegrity indicates a foreign-key or uniqueness violation
	StoreIntegrity ErrorCode = "STORE_INTEGRITY"
	// StrategyUnscoped indicates a strategy number outside 0-4
	StrategyUnscoped ErrorCode = "STRATEGY_UNSCOPED"
	// ScanInFlight indicates a scan was requested while one is already running
	ScanInFlight ErrorCode = "SCAN_IN_FLIGHT"
	// InvalidFilter indicates an unknown or malformed query filter
	InvalidFilter ErrorCode = "INVALID_FILTER"
	// InternalError indicates an unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents an SDX error with a stable code, message and optional cause
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping an underlying cause
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code from any error.
// Non-SDX errors map to InternalError.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err is a NotFound error
func IsNotFound(err error) bool {
	return HasCode(err, NotFound)
}

// IsForbidden reports whether err is a Forbidden error
func IsForbidden(err error) bool {
	return HasCode(err, Forbidden)
}
