// Package storage provides ClickHouse persistence for security events and
// the activity log.
package storage

import (
	"errors"
	"fmt"
)

// Storage error types for categorizing storage failures.
var (
	// ErrStoreUnavailable indicates the event store could not serve the
	// call. It triggers the fallback provider and is never surfaced to
	// engine callers.
	ErrStoreUnavailable = errors.New("storage: store unavailable")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("storage: query failed")

	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidData indicates invalid data was provided.
	ErrInvalidData = errors.New("storage: invalid data")
)

// StoreError wraps storage errors with operation context.
type StoreError struct {
	Op    string // Operation that failed (e.g., "CreateEvent", "QueryEvents")
	Table string // Table involved, if applicable
	Err   error  // Underlying error
}

// Error returns the error message.
func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsUnavailable checks if the error indicates the store is unreachable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// WrapUnavailable wraps a driver error as a store-unavailable error.
func WrapUnavailable(op string, err error) error {
	return &StoreError{
		Op:  op,
		Err: fmt.Errorf("%w: %v", ErrStoreUnavailable, err),
	}
}

// WrapQueryError wraps an error as a query error. Query failures count as
// unavailability for fallback purposes, so the sentinel chain includes both.
func WrapQueryError(op, table string, err error) error {
	return &StoreError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %w: %v", ErrStoreUnavailable, ErrQueryFailed, err),
	}
}

// WrapNotFound wraps an error as a not found error.
func WrapNotFound(op, table, id string) error {
	return &StoreError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: id=%s", ErrNotFound, id),
	}
}
