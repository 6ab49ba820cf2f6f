package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/me/tasker/pkg/model"
)

// Store holds task records. Implementations must make each call atomic on its
// own; the scheduler never relies on anything wider than that.
type Store interface {
	// ReadTasks returns a snapshot of all tasks in insertion order.
	ReadTasks(ctx context.Context) ([]model.Task, error)

	// AddTask persists a new task with a fresh ID and status QUEUED, and
	// returns the ID. The ID and Status fields of task are ignored.
	AddTask(ctx context.Context, task model.Task) (string, error)

	// UpdateTask merges the set fields of u into the task with ID u.ID.
	// An unknown ID is not an error: the call does nothing.
	UpdateTask(ctx context.Context, u model.TaskUpdate) error

	Close() error
}

// NewTaskID returns a fresh task identifier.
func NewTaskID() string {
	return "task_" + uuid.New().String()
}
