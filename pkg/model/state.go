package model

// TaskStatus represents the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusQueued   TaskStatus = "QUEUED"
	TaskStatusRunning  TaskStatus = "RUNNING"
	TaskStatusFinished TaskStatus = "FINISHED"
	TaskStatusError    TaskStatus = "ERROR"
)

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the task is in a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusFinished, TaskStatusError:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusFinished, TaskStatusError:
		return true
	}
	return false
}
