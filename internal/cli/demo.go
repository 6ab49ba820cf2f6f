package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/tasker/internal/board"
	"github.com/me/tasker/internal/handler"
	"github.com/me/tasker/internal/scheduler"
	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/internal/store"
	"github.com/me/tasker/pkg/model"
)

// demoOptions configures the two-scheduler export race.
type demoOptions struct {
	Tasks        int
	Intervals    []time.Duration
	MaxIncrement int
	MaxStep      time.Duration
	Refresh      time.Duration
	Timeout      time.Duration
}

func newDemoCmd() *cobra.Command {
	opts := demoOptions{}
	var slow, fast time.Duration

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Race export tasks across two schedulers and print the board",
		Long: `Starts two scheduler instances with their own in-memory stores and different
tick intervals. Both report into one board. Export tasks with random increments
and step intervals are spread across the two, and the board is printed until
every task has finished.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Intervals = []time.Duration{slow, fast}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			return runDemo(ctx, cmd.OutOrStdout(), opts, logger)
		},
	}
	cmd.Flags().IntVar(&opts.Tasks, "tasks", 6, "Number of export tasks")
	cmd.Flags().DurationVar(&slow, "slow", 5000*time.Millisecond, "Tick interval of the first scheduler")
	cmd.Flags().DurationVar(&fast, "fast", 2500*time.Millisecond, "Tick interval of the second scheduler")
	cmd.Flags().IntVar(&opts.MaxIncrement, "max-increment", 20, "Upper bound for a task's progress increment")
	cmd.Flags().DurationVar(&opts.MaxStep, "max-step", time.Second, "Upper bound for a task's step interval")
	cmd.Flags().DurationVar(&opts.Refresh, "refresh", time.Second, "How often the board is printed")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "Give up after this long")
	return cmd
}

func runDemo(ctx context.Context, out io.Writer, opts demoOptions, logger *slog.Logger) error {
	if opts.Tasks <= 0 || len(opts.Intervals) == 0 {
		return errors.New("demo needs at least one task and one scheduler")
	}
	b := board.New(nil)

	loops := make([]*scheduler.Loop, len(opts.Intervals))
	stores := make([]store.Store, len(opts.Intervals))
	for i, interval := range opts.Intervals {
		stores[i] = store.NewMemoryStore(logger)
		loops[i] = scheduler.NewLoop(stores[i], scheduler.Config{
			Name:     fmt.Sprintf("demo-%d", i+1),
			Interval: interval,
		}, logger, scheduler.WithResultSink(b), scheduler.WithErrorSink(b))
		if err := loops[i].RegisterHandler(scheduler.Registration{
			Name:    handler.ExportType,
			Handler: handler.NewExport(logger),
		}); err != nil {
			return err
		}
	}

	maxStepMS := max(int(opts.MaxStep.Milliseconds()), 1)
	maxIncrement := max(opts.MaxIncrement, 1)
	for n := range opts.Tasks {
		st := stores[n%len(stores)]
		task := model.Task{
			Type: handler.ExportType,
			Meta: map[string]any{
				"increment": rand.IntN(maxIncrement) + 1,
				"interval":  rand.IntN(maxStepMS) + 1,
			},
		}
		id, err := st.AddTask(ctx, task)
		if err != nil {
			return fmt.Errorf("enqueue demo task: %w", err)
		}
		task.ID = id
		task.Status = model.TaskStatusQueued
		b.Put(sink.Record{TaskID: id, Task: task, At: time.Now().UTC()})
	}

	for _, loop := range loops {
		go loop.Start(ctx)
	}
	defer func() {
		for _, loop := range loops {
			loop.Stop()
		}
	}()

	ticker := time.NewTicker(opts.Refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Render(out)
			return fmt.Errorf("demo: %w", ctx.Err())
		case <-ticker.C:
		}

		entries := b.Snapshot()
		if board.Done(entries) {
			fmt.Fprintln(out, "\nFinal board:")
			return board.Render(out, entries)
		}
		if err := board.Render(out, entries); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
}
