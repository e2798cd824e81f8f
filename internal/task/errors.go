package task

import "errors"

var (
	// ErrValidation is returned for malformed enqueue requests. No task is
	// created.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupportedAction is returned for actions without a handler.
	ErrUnsupportedAction = errors.New("unsupported task action")

	// ErrTaskInProgress is returned when an operator action targets a task
	// that is currently being processed.
	ErrTaskInProgress = errors.New("task is in progress")

	// ErrHandlerPanic is the message recorded when a handler panics.
	ErrHandlerPanic = errors.New("task handler panicked")
)
