package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/pkg/model"
)

// TaskContext is what a handler sees of the scheduler: its task, its
// environment, a result sink bound to the task, and the two calls that end
// the task. Exactly one of Complete or Fail takes effect; every later call
// returns ErrAlreadyTerminal.
type TaskContext struct {
	loop *Loop
	ctx  context.Context
	env  map[string]any

	mu   sync.Mutex
	task model.Task
	done chan struct{}
}

// newTaskContext detaches ctx from cancellation: a dispatched task outlives
// the tick and the loop that started it.
func newTaskContext(l *Loop, ctx context.Context, task model.Task, env map[string]any) *TaskContext {
	return &TaskContext{
		loop: l,
		ctx:  context.WithoutCancel(ctx),
		env:  env,
		task: task,
		done: make(chan struct{}),
	}
}

// Task returns a copy of the task as last known to this context.
func (tc *TaskContext) Task() model.Task {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.task.Clone()
}

// Environment returns the handler environment: scheduler values overlaid
// with the registration's own values.
func (tc *TaskContext) Environment() map[string]any {
	return maps.Clone(tc.env)
}

// Done is closed once the task reaches a terminal status.
func (tc *TaskContext) Done() <-chan struct{} {
	return tc.done
}

// Put writes task to the result sink. The record is always attributed to
// this context's task, whatever ID the argument carries.
func (tc *TaskContext) Put(task model.Task) {
	tc.mu.Lock()
	id := tc.task.ID
	tc.mu.Unlock()

	task = task.Clone()
	task.ID = id
	tc.loop.results.Put(sink.Record{TaskID: id, Task: task, At: time.Now().UTC()})
}

// Report records progress on the task in the store and on the result sink.
func (tc *TaskContext) Report(ctx context.Context, progress float64) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.terminal() {
		return ErrAlreadyTerminal
	}

	if err := tc.loop.store.UpdateTask(ctx, model.TaskUpdate{ID: tc.task.ID, Progress: &progress}); err != nil {
		return fmt.Errorf("report progress for %s: %w", tc.task.ID, err)
	}
	tc.task.Progress = progress
	tc.loop.results.Put(sink.Record{TaskID: tc.task.ID, Task: tc.task.Clone(), At: time.Now().UTC()})
	return nil
}

// Complete ends the task successfully. Handler-owned fields of task (meta,
// progress) are merged into the stored record; the status comes from the
// transition policy.
func (tc *TaskContext) Complete(task model.Task) error {
	return tc.finish(task, nil)
}

// Fail ends the task with an error. The task moves to the policy's failure
// status and {task, error} is written to the error sink.
func (tc *TaskContext) Fail(task model.Task, cause error) error {
	if cause == nil {
		cause = errors.New("unspecified handler error")
	}
	return tc.finish(task, cause)
}

func (tc *TaskContext) finish(from model.Task, cause error) error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.terminal() {
		tc.loop.logger.Debug("terminal call on finished task ignored", "task_id", tc.task.ID)
		return ErrAlreadyTerminal
	}

	failed := cause != nil
	merged := mergeHandlerFields(tc.task, from)
	next, err := tc.loop.policy.Next(merged, failed)
	if err != nil {
		tc.loop.logger.Error("transition failed", "task_id", merged.ID, "status", merged.Status, "error", err)
		tc.loop.errors.Put(sink.Record{TaskID: merged.ID, Task: merged, Error: err.Error(), At: time.Now().UTC()})
		return err
	}

	now := time.Now().UTC()
	merged.Status = next
	merged.CompletedAt = &now
	if failed {
		merged.ErrorMessage = cause.Error()
	}

	if err := tc.loop.store.UpdateTask(tc.ctx, model.UpdateFrom(merged)); err != nil {
		tc.loop.logger.Error("persist terminal status", "task_id", merged.ID, "error", err)
		return fmt.Errorf("persist task %s: %w", merged.ID, err)
	}
	tc.task = merged

	rec := sink.Record{TaskID: merged.ID, Task: merged.Clone(), At: now}
	if failed {
		rec.Error = merged.ErrorMessage
		tc.loop.errors.Put(rec)
	} else {
		tc.loop.results.Put(rec)
	}

	close(tc.done)
	tc.loop.finished(merged)
	return nil
}

// terminal must be called with tc.mu held.
func (tc *TaskContext) terminal() bool {
	select {
	case <-tc.done:
		return true
	default:
		return false
	}
}

// mergeHandlerFields copies the fields a handler owns from `from` onto cur.
// Identity, type, status and timestamps stay with cur.
func mergeHandlerFields(cur, from model.Task) model.Task {
	out := cur.Clone()
	if from.Meta != nil {
		out.Meta = maps.Clone(from.Meta)
	}
	if from.Progress != 0 {
		out.Progress = from.Progress
	}
	if from.ErrorMessage != "" {
		out.ErrorMessage = from.ErrorMessage
	}
	return out
}
