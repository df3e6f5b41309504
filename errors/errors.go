// Package errors provides structured error types for the meter tracker.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeNetworkFailure    ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeAuthFailure       ErrorCode = "AUTH_FAILURE"
	ErrCodeConfigFailure     ErrorCode = "CONFIG_FAILURE"
)

// Operation represents the type of meter operation
type Operation string

const (
	OpSave       Operation = "save"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpFetch      Operation = "fetch"
	OpEnqueue    Operation = "enqueue"
	OpFlush      Operation = "flush"
	OpReconcile  Operation = "reconcile"
	OpCycleSet   Operation = "cycle_set"
	OpApprove    Operation = "approve"
	OpCacheRead  Operation = "cache_read"
	OpCacheWrite Operation = "cache_write"
	OpAuth       Operation = "auth"
	OpConfig     Operation = "config"
	OpClose      Operation = "close"
)

// MeterError represents an error that occurred in a meter tracker component
type MeterError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "remote", "outbox")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *MeterError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *MeterError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage-related MeterError
func NewStorageError(op Operation, cause error) *MeterError {
	return &MeterError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "storage",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related MeterError.
// Validation failures are rejected before any network call and never retried.
func NewValidationError(op Operation, cause error) *MeterError {
	return &MeterError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// NewNetworkError creates a new network-related MeterError. Timeouts,
// non-2xx statuses, malformed JSON and non-ok envelopes from the remote
// authority all map here and are uniformly retryable.
func NewNetworkError(op Operation, cause error) *MeterError {
	return &MeterError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "remote",
		Err:       cause,
		Retryable: true,
	}
}

// NewAuthError creates a new authorization-related MeterError. Bad PINs and
// non-admin attempts at admin actions block until the user re-authenticates.
func NewAuthError(op Operation, cause error) *MeterError {
	return &MeterError{
		Code:      ErrCodeAuthFailure,
		Op:        op,
		Component: "auth",
		Err:       cause,
		Retryable: false,
	}
}

// NewConfigError creates a new configuration-related MeterError. These are
// operator mistakes (missing secret, bad config file), never user-actionable.
func NewConfigError(op Operation, cause error) *MeterError {
	return &MeterError{
		Code:      ErrCodeConfigFailure,
		Op:        op,
		Component: "config",
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new MeterError
func New(op Operation, err error) *MeterError {
	return &MeterError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new MeterError with component information
func NewWithComponent(op Operation, component string, err error) *MeterError {
	return &MeterError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable MeterError
func NewRetryable(op Operation, err error) *MeterError {
	return &MeterError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// IsRetryable checks if an error is a retryable MeterError
func IsRetryable(err error) bool {
	var meterErr *MeterError
	if errors.As(err, &meterErr) {
		return meterErr.Retryable
	}
	return false
}

// CodeOf returns the error code carried by err, or the empty code if err is
// not a MeterError.
func CodeOf(err error) ErrorCode {
	var meterErr *MeterError
	if errors.As(err, &meterErr) {
		return meterErr.Code
	}
	return ""
}
