package repositories

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// StorageError is an infrastructure failure from the persistence layer.
// Only retryable errors may be retried by the caller.
type StorageError struct {
	Op        string
	Retryable bool
	Err       error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, kind, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a retryable storage error
func NewRetryable(op string, err error) *StorageError {
	return &StorageError{Op: op, Retryable: true, Err: err}
}

// NewFatal wraps err as a fatal storage error
func NewFatal(op string, err error) *StorageError {
	return &StorageError{Op: op, Retryable: false, Err: err}
}

// IsStorageError reports whether err carries a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsRetryable reports whether err is a retryable storage error
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
