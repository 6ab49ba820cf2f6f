package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHandler is returned when no handler is registered for a task type.
	ErrNoHandler = errors.New("no handler registered")

	// ErrAlreadyTerminal is returned when a task that already finished or
	// failed is completed, failed or reported on again. Nothing is changed.
	ErrAlreadyTerminal = errors.New("task already terminal")

	// ErrAlreadyStarted is returned by Start on a loop that is or was running.
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// DispatchError reports why a single task could not be handed to its handler.
// It never aborts the tick for other tasks.
type DispatchError struct {
	TaskID string
	Type   string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch task %s (%s): %v", e.TaskID, e.Type, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
