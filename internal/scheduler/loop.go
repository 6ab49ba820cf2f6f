package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/internal/store"
	"github.com/me/tasker/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	// Name labels the instance in logs and metrics.
	Name     string
	Interval time.Duration
	Values   map[string]any
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Name: "default", Interval: DefaultInterval}
}

// Option configures optional Loop collaborators.
type Option func(*Loop)

// WithResultSink sets where progress and completion records go.
func WithResultSink(s sink.Sink) Option {
	return func(l *Loop) { l.results = s }
}

// WithErrorSink sets where error records go.
func WithErrorSink(s sink.Sink) Option {
	return func(l *Loop) { l.errors = s }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p TransitionPolicy) Option {
	return func(l *Loop) { l.policy = p }
}

// WithRegistry makes the loop use reg instead of a fresh empty registry.
func WithRegistry(reg *Registry) Option {
	return func(l *Loop) { l.registry = reg }
}

// Loop implements the Scheduler interface with a polling loop.
type Loop struct {
	name     string
	store    store.Store
	registry *Registry
	policy   TransitionPolicy
	results  sink.Sink
	errors   sink.Sink
	logger   *slog.Logger

	envMu sync.RWMutex
	env   Environment
	rearm chan struct{}

	mu       sync.Mutex
	inflight map[string]*TaskContext
	pending  sync.WaitGroup

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a new scheduler loop over st.
func NewLoop(st store.Store, cfg Config, logger *slog.Logger, opts ...Option) *Loop {
	initMetrics()

	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger = logger.With("component", "scheduler", "scheduler", cfg.Name)

	l := &Loop{
		name:     cfg.Name,
		store:    st,
		policy:   DefaultPolicy,
		results:  sink.Discard,
		errors:   sink.Discard,
		logger:   logger,
		env:      Environment{Interval: cfg.Interval}.Merge(EnvironmentUpdate{Values: cfg.Values}),
		rearm:    make(chan struct{}, 1),
		inflight: make(map[string]*TaskContext),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.registry == nil {
		l.registry = NewRegistry(logger)
	}
	return l
}

// Name returns the instance name.
func (l *Loop) Name() string {
	return l.name
}

// Registry returns the loop's handler registry.
func (l *Loop) Registry() *Registry {
	return l.registry
}

// RegisterHandler adds or replaces the handler for reg.Name. Safe to call
// while the loop runs; the next tick sees it.
func (l *Loop) RegisterHandler(reg Registration) error {
	return l.registry.Register(reg)
}

// Environment returns a copy of the current environment.
func (l *Loop) Environment() Environment {
	l.envMu.RLock()
	defer l.envMu.RUnlock()
	return l.env.Clone()
}

// UpdateEnvironment merges u into the environment. A new interval re-arms
// the standing timer at once instead of waiting for it to fire.
func (l *Loop) UpdateEnvironment(u EnvironmentUpdate) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update environment: %w", err)
	}
	l.envMu.Lock()
	l.env = l.env.Merge(u)
	interval := l.env.Interval
	l.envMu.Unlock()

	l.logger.Info("environment updated", "interval", interval)
	if u.Interval != nil {
		select {
		case l.rearm <- struct{}{}:
		default:
		}
	}
	return nil
}

func (l *Loop) interval() time.Duration {
	l.envMu.RLock()
	defer l.envMu.RUnlock()
	return l.env.Interval
}

// Start begins the polling loop. Blocks until ctx is cancelled or Stop is called.
// A loop can be started once.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(l.doneCh)

	interval := l.interval()
	l.logger.Info("scheduler started", "interval", interval, "handlers", l.registry.Names())
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-l.rearm:
			timer.Reset(l.interval())
		case <-timer.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
			timer.Reset(l.interval())
		}
	}
}

// Stop ends the polling loop and waits for the current tick to finish.
// Dispatched tasks are not interrupted. Calling Stop on a loop that was never
// started, or more than once, is harmless.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started.Load() {
		<-l.doneCh
	}
	return nil
}

// Drain waits until every dispatched task has terminated or ctx is done.
func (l *Loop) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain: %d tasks still running: %w", l.Inflight(), ctx.Err())
	}
}

// Inflight returns the number of dispatched tasks that have not terminated.
func (l *Loop) Inflight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

// Tick runs a single polling iteration: every QUEUED task in the store is
// moved to RUNNING and started on its handler. Only a failed store read
// fails the tick as a whole; per-task failures are collected and returned
// together after every task had its turn.
func (l *Loop) Tick(ctx context.Context) error {
	tickCount.WithLabelValues(l.name).Inc()

	tasks, err := l.store.ReadTasks(ctx)
	if err != nil {
		tickFailures.WithLabelValues(l.name).Inc()
		return fmt.Errorf("read tasks: %w", err)
	}

	var errs *multierror.Error
	ready := 0
	for _, task := range tasks {
		if task.Status != model.TaskStatusQueued {
			continue
		}
		ready++
		if err := l.dispatch(ctx, task); err != nil {
			dispatchFailures.WithLabelValues(l.name, task.Type).Inc()
			l.logger.Error("dispatch task", "task_id", task.ID, "task", task.Type, "error", err)
			errs = multierror.Append(errs, err)
		}
	}
	if ready > 0 {
		l.logger.Debug("tick", "ready", ready, "inflight", l.Inflight())
	}
	return errs.ErrorOrNil()
}

// dispatch persists the RUNNING transition before anything else, so a reader
// never sees a dispatched task as QUEUED.
func (l *Loop) dispatch(ctx context.Context, task model.Task) error {
	l.mu.Lock()
	_, running := l.inflight[task.ID]
	l.mu.Unlock()
	if running {
		// Store has not caught up with our own RUNNING write yet.
		return nil
	}

	next, err := l.policy.Next(task, false)
	if err != nil {
		return &DispatchError{TaskID: task.ID, Type: task.Type, Err: err}
	}
	now := time.Now().UTC()
	if err := l.store.UpdateTask(ctx, model.TaskUpdate{ID: task.ID, Status: &next, StartedAt: &now}); err != nil {
		return &DispatchError{TaskID: task.ID, Type: task.Type, Err: fmt.Errorf("persist %s: %w", next, err)}
	}
	task.Status = next
	task.StartedAt = &now

	reg, err := l.registry.Resolve(task.Type)
	if err != nil {
		derr := &DispatchError{TaskID: task.ID, Type: task.Type, Err: err}
		l.errors.Put(sink.Record{TaskID: task.ID, Task: task, Error: derr.Error(), At: now})
		return derr
	}

	tc := newTaskContext(l, ctx, task, handlerEnvironment(l.Environment(), reg))
	l.mu.Lock()
	l.inflight[task.ID] = tc
	l.mu.Unlock()
	l.pending.Add(1)
	inflightTasks.WithLabelValues(l.name).Inc()
	dispatchedTasks.WithLabelValues(l.name, task.Type).Inc()

	l.logger.Info("task dispatched", "task_id", task.ID, "task", task.Type)
	go l.run(reg.Handler, tc)
	return nil
}

// run invokes the handler. A panicking handler fails its task.
func (l *Loop) run(h Handler, tc *TaskContext) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler panicked", "task_id", tc.Task().ID, "panic", r, "stack", string(debug.Stack()))
			tc.Fail(tc.Task(), fmt.Errorf("handler panic: %v", r))
		}
	}()
	h.Handle(tc.ctx, tc)
}

// finished is called by a TaskContext once its task is terminal.
func (l *Loop) finished(task model.Task) {
	l.mu.Lock()
	delete(l.inflight, task.ID)
	l.mu.Unlock()
	l.pending.Done()

	inflightTasks.WithLabelValues(l.name).Dec()
	terminatedTasks.WithLabelValues(l.name, task.Type, string(task.Status)).Inc()
	l.logger.Info("task terminated", "task_id", task.ID, "task", task.Type, "status", task.Status)
}
