package core

import (
	"errors"
	"fmt"
)

// ErrTargetExited is returned by host adapters once the monitored process
// is gone.
var ErrTargetExited = errors.New("target process exited")

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatHostCallFailed    ErrorCategory = "host_call_failed"   // Introspection primitive failed
	ErrCatIO                ErrorCategory = "io"                 // Filesystem failure
	ErrCatParse             ErrorCategory = "parse"              // Malformed pattern or signature
	ErrCatActionUnavailable ErrorCategory = "action_unavailable" // Impossible under current flags
	ErrCatConfig            ErrorCategory = "config"             // Invalid startup options
	ErrCatInternal          ErrorCategory = "internal"           // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
	Details  map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrHostCallFailed creates an error for a failed host introspection call.
func ErrHostCallFailed(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatHostCallFailed,
		Code:     code,
		Message:  message,
	}
}

// ErrIO creates a filesystem error.
func ErrIO(message string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatIO,
		Code:     CodeIOFailed,
		Message:  message + ": I/O error",
		Cause:    cause,
	}
}

// ErrParse creates a parse error.
func ErrParse(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatParse,
		Code:     code,
		Message:  message,
	}
}

// ErrActionUnavailable creates an error for an action that cannot run
// while the host is unable to create threads. verb describes what the
// action would have done, e.g. "generate a heap dump".
func ErrActionUnavailable(verb string) *DomainError {
	return &DomainError{
		Category: ErrCatActionUnavailable,
		Code:     CodeThreadsExhausted,
		Message:  fmt.Sprintf("cannot %s since the JVM is unable to create a thread", verb),
	}
}

// ErrConfig creates a configuration error.
func ErrConfig(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatConfig,
		Code:     code,
		Message:  message,
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes
const (
	CodeClassNotFound     = "CLASS_NOT_FOUND"
	CodeMethodFailed      = "METHOD_FAILED"
	CodeTraversalFailed   = "TRAVERSAL_FAILED"
	CodeTraversalRepeated = "TRAVERSAL_REPEATED"
	CodeTagOverflow       = "TAG_OVERFLOW"
	CodeDumpFailed        = "DUMP_FAILED"
	CodeSignalFailed      = "SIGNAL_FAILED"
	CodeIOFailed          = "IO_FAILED"
	CodeThreadsExhausted  = "THREADS_EXHAUSTED"

	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeInvalidPattern   = "INVALID_PATTERN"
	CodeInvalidFlags     = "INVALID_FLAGS"
	CodeInvalidDump      = "INVALID_DUMP"

	CodeInvalidOption = "INVALID_OPTION"
	CodeUnknownOption = "UNKNOWN_OPTION"
	CodeInvalidConfig = "INVALID_CONFIG"
)
