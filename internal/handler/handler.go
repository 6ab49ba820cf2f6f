// Package handler holds the built-in task handlers.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/me/tasker/internal/scheduler"
	"github.com/me/tasker/pkg/model"
)

// Builtin returns every built-in handler keyed by the task type it serves.
func Builtin(logger *slog.Logger) map[string]scheduler.Handler {
	return map[string]scheduler.Handler{
		ExportType: NewExport(logger),
		ScriptType: NewScript(logger),
	}
}

// complete ends tc with task. When the completion cannot be stored the task
// is failed with the last state the store accepted, so it never stays RUNNING.
func complete(tc *scheduler.TaskContext, task model.Task, logger *slog.Logger) {
	err := tc.Complete(task)
	if err == nil || errors.Is(err, scheduler.ErrAlreadyTerminal) {
		return
	}
	logger.Warn("complete task failed, failing it", "task_id", task.ID, "error", err)
	fail(tc, err, logger)
}

// fail ends tc with cause, logging when even that cannot be stored.
func fail(tc *scheduler.TaskContext, cause error, logger *slog.Logger) {
	err := tc.Fail(tc.Task(), cause)
	if err != nil && !errors.Is(err, scheduler.ErrAlreadyTerminal) {
		logger.Error("fail task", "task_id", tc.Task().ID, "cause", cause, "error", err)
	}
}

// number reads a numeric meta value. Values decoded from JSON arrive as
// float64, from CBOR as uint64 or int64, and values set in Go code usually
// as int.
func number(meta map[string]any, key string) (float64, bool, error) {
	v, ok := meta[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case uint64:
		return float64(n), true, nil
	case int32:
		return float64(n), true, nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil, err
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false, fmt.Errorf("meta.%s: %w", key, err)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("meta.%s: unsupported type %T", key, v)
}
