package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/tasker/internal/scheduler"
)

// ExportType is the task type served by Export.
const ExportType = "export"

// Export simulates a long-running export. Every meta.interval milliseconds
// it adds meta.increment to the progress, capped at 100, and completes the
// task once 100 is reached.
type Export struct {
	// DefaultInterval applies when meta.interval is absent.
	DefaultInterval time.Duration
	logger          *slog.Logger
}

// NewExport creates an Export handler.
func NewExport(logger *slog.Logger) *Export {
	return &Export{
		DefaultInterval: time.Second,
		logger:          logger.With("component", "export-handler"),
	}
}

func (e *Export) Handle(ctx context.Context, tc *scheduler.TaskContext) {
	task := tc.Task()

	increment, ok, err := number(task.Meta, "increment")
	if err == nil && (!ok || increment <= 0) {
		err = fmt.Errorf("meta.increment must be a positive number")
	}
	if err != nil {
		tc.Fail(task, err)
		return
	}

	interval := e.DefaultInterval
	ms, ok, err := number(task.Meta, "interval")
	if err != nil {
		tc.Fail(task, err)
		return
	}
	if ok {
		if ms <= 0 {
			tc.Fail(task, fmt.Errorf("meta.interval must be positive, got %v", ms))
			return
		}
		interval = time.Duration(ms * float64(time.Millisecond))
	}

	e.logger.Debug("export started", "task_id", task.ID, "increment", increment, "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	progress := task.Progress
	for range ticker.C {
		progress = min(progress+increment, 100)
		if err := tc.Report(ctx, progress); err != nil {
			if !errors.Is(err, scheduler.ErrAlreadyTerminal) {
				e.logger.Warn("report progress failed, failing export", "task_id", task.ID, "error", err)
				fail(tc, err, e.logger)
			}
			return
		}
		if progress >= 100 {
			break
		}
	}

	task = tc.Task()
	task.Progress = 100
	complete(tc, task, e.logger)
}
