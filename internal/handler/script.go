package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dop251/goja"

	"github.com/me/tasker/internal/scheduler"
)

// ScriptType is the task type served by Script.
const ScriptType = "script"

// Script runs the JavaScript in meta.source as a function body. The script
// sees `task` (id, task, meta), `env` (the handler environment) and a
// `report(progress)` function. Its return value is stored in meta.result.
type Script struct {
	// Timeout interrupts scripts that run longer. Zero means no limit.
	Timeout time.Duration
	logger  *slog.Logger
}

// NewScript creates a Script handler with a 30 second timeout.
func NewScript(logger *slog.Logger) *Script {
	return &Script{
		Timeout: 30 * time.Second,
		logger:  logger.With("component", "script-handler"),
	}
}

func (s *Script) Handle(ctx context.Context, tc *scheduler.TaskContext) {
	task := tc.Task()
	source, ok := task.Meta["source"].(string)
	if !ok || source == "" {
		tc.Fail(task, errors.New("meta.source must be a non-empty string"))
		return
	}

	result, err := s.run(ctx, tc, source)
	if err != nil {
		tc.Fail(tc.Task(), err)
		return
	}

	task = tc.Task()
	task.Meta = maps.Clone(task.Meta)
	task.Meta["result"] = result
	complete(tc, task, s.logger)
}

func (s *Script) run(ctx context.Context, tc *scheduler.TaskContext, source string) (any, error) {
	task := tc.Task()
	vm := goja.New()

	if err := vm.Set("task", map[string]any{
		"id":   task.ID,
		"task": task.Type,
		"meta": task.Meta,
	}); err != nil {
		return nil, fmt.Errorf("set task: %w", err)
	}
	if err := vm.Set("env", tc.Environment()); err != nil {
		return nil, fmt.Errorf("set env: %w", err)
	}
	if err := vm.Set("report", func(progress float64) {
		if err := tc.Report(ctx, progress); err != nil {
			vm.Interrupt(err)
		}
	}); err != nil {
		return nil, fmt.Errorf("set report: %w", err)
	}

	if s.Timeout > 0 {
		timer := time.AfterFunc(s.Timeout, func() {
			vm.Interrupt(fmt.Sprintf("script exceeded %s", s.Timeout))
		})
		defer timer.Stop()
	}

	val, err := vm.RunString(fmt.Sprintf("(function() { %s })()", source))
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}
