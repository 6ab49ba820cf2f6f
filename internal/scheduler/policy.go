package scheduler

import "github.com/me/tasker/pkg/model"

// TransitionPolicy decides the next status of a task. It must be pure.
type TransitionPolicy interface {
	Next(task model.Task, failed bool) (model.TaskStatus, error)
}

// PolicyFunc adapts a plain function to a TransitionPolicy.
type PolicyFunc func(task model.Task, failed bool) (model.TaskStatus, error)

func (f PolicyFunc) Next(task model.Task, failed bool) (model.TaskStatus, error) {
	return f(task, failed)
}

// DefaultPolicy moves QUEUED to RUNNING and RUNNING to FINISHED. Any status
// goes to ERROR when failed is set. Every other input is a *model.TransitionError.
var DefaultPolicy TransitionPolicy = PolicyFunc(defaultNext)

func defaultNext(task model.Task, failed bool) (model.TaskStatus, error) {
	if failed {
		return model.TaskStatusError, nil
	}
	switch task.Status {
	case model.TaskStatusQueued:
		return model.TaskStatusRunning, nil
	case model.TaskStatusRunning:
		return model.TaskStatusFinished, nil
	}
	return "", &model.TransitionError{ID: task.ID, From: task.Status}
}
