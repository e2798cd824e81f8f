package store

import (
	"errors"
	"fmt"
)

// Base errors. Task-specific errors below wrap them so callers can match
// either the broad or the precise condition.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrDuplicate         = errors.New("entity already exists")
	ErrInvalidEntity     = errors.New("invalid entity")
	ErrUpdateFailed      = errors.New("update failed")
	ErrTransactionFailed = errors.New("transaction failed")
)

var (
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrDuplicateTask means a pending or in-progress task already holds
	// the dedup key.
	ErrDuplicateTask = fmt.Errorf("%w: active task for dedup key", ErrDuplicate)

	// ErrInvalidTransition means the task was not in the source status the
	// update required.
	ErrInvalidTransition = fmt.Errorf("%w: invalid task status transition", ErrUpdateFailed)

	ErrTaskNotClaimable = fmt.Errorf("%w: task is not pending", ErrInvalidTransition)
)

// IsDuplicateError reports whether err is any duplicate error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// StoreError marks an infrastructure failure, such as a lost connection or
// a timeout, as opposed to a domain outcome like ErrDuplicateTask.
type StoreError struct {
	Entity    string
	Operation string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " operation on " + e.Entity + " failed: " + e.Message
	if e.Err == nil {
		return msg
	}
	return msg + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError builds a StoreError. err may be nil.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{Entity: entity, Operation: operation, Message: message, Err: err}
}

// IsStoreError reports whether err is, or wraps, a *StoreError.
func IsStoreError(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr)
}
