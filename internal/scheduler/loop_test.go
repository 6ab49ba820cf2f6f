package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/internal/store"
	"github.com/me/tasker/pkg/model"
)

// testSetup creates an in-memory store, memory sinks and a Loop over them.
func testSetup(t *testing.T, opts ...Option) (*Loop, store.Store, *sink.Memory, *sink.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore(logger)
	results, errs := sink.NewMemory(), sink.NewMemory()

	cfg := DefaultConfig()
	cfg.Name = t.Name()
	opts = append([]Option{WithResultSink(results), WithErrorSink(errs)}, opts...)
	return NewLoop(st, cfg, logger, opts...), st, results, errs
}

func enqueue(t *testing.T, st store.Store, taskType string) string {
	t.Helper()
	id, err := st.AddTask(context.Background(), model.Task{Type: taskType})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	return id
}

func taskByID(t *testing.T, st store.Store, id string) model.Task {
	t.Helper()
	tasks, err := st.ReadTasks(context.Background())
	if err != nil {
		t.Fatalf("ReadTasks: %v", err)
	}
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}
	t.Fatalf("task %s not in store", id)
	return model.Task{}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// capture is a handler that hands every TaskContext to the test.
func capture(ch chan<- *TaskContext) Handler {
	return HandlerFunc(func(_ context.Context, tc *TaskContext) { ch <- tc })
}

func TestTick_DispatchesQueuedTaskAsRunning(t *testing.T) {
	sched, st, results, _ := testSetup(t)
	ctx := context.Background()

	var seen model.TaskStatus
	var stored model.TaskStatus
	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{Name: "export", Handler: HandlerFunc(func(_ context.Context, tc *TaskContext) {
		seen = tc.Task().Status
		stored = taskByID(t, st, tc.Task().ID).Status
		got <- tc
	})})

	id := enqueue(t, st, "export")
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	tc := <-got

	if seen != model.TaskStatusRunning {
		t.Errorf("handler saw status %q, want RUNNING", seen)
	}
	if stored != model.TaskStatusRunning {
		t.Errorf("store showed %q during handler, want RUNNING", stored)
	}
	if task := taskByID(t, st, id); task.StartedAt == nil {
		t.Error("StartedAt not set on dispatch")
	}

	done := tc.Task()
	done.Progress = 100
	if err := tc.Complete(done); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	task := taskByID(t, st, id)
	if task.Status != model.TaskStatusFinished {
		t.Errorf("status = %q, want FINISHED", task.Status)
	}
	if task.Progress != 100 {
		t.Errorf("progress = %v, want 100", task.Progress)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	rec, ok := results.Latest(id)
	if !ok || rec.Task.Status != model.TaskStatusFinished {
		t.Errorf("final result record = %+v, %v", rec, ok)
	}
	select {
	case <-tc.Done():
	default:
		t.Error("Done not closed after Complete")
	}
}

func TestTick_DispatchesAtMostOnce(t *testing.T) {
	sched, st, _, _ := testSetup(t)
	ctx := context.Background()

	var calls atomic.Int32
	sched.RegisterHandler(Registration{Name: "stuck", Handler: HandlerFunc(func(context.Context, *TaskContext) {
		calls.Add(1) // never completes
	})})
	id := enqueue(t, st, "stuck")

	for i := 0; i < 5; i++ {
		if err := sched.Tick(ctx); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		if s := taskByID(t, st, id).Status; s != model.TaskStatusRunning {
			t.Fatalf("after tick %d status = %q, want RUNNING", i, s)
		}
	}
	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
	if n := sched.Inflight(); n != 1 {
		t.Errorf("Inflight = %d, want 1", n)
	}
}

func TestTick_SkipsNonQueued(t *testing.T) {
	sched, st, _, _ := testSetup(t)
	ctx := context.Background()

	var calls atomic.Int32
	sched.RegisterHandler(Registration{Name: "export", Handler: HandlerFunc(func(context.Context, *TaskContext) {
		calls.Add(1)
	})})
	for _, status := range []model.TaskStatus{model.TaskStatusRunning, model.TaskStatusFinished, model.TaskStatusError} {
		id := enqueue(t, st, "export")
		s := status
		st.UpdateTask(ctx, model.TaskUpdate{ID: id, Status: &s})
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for non-queued tasks", n)
	}
}

func TestTaskContext_FailSetsError(t *testing.T) {
	sched, st, _, errSink := testSetup(t)
	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{Name: "export", Handler: capture(got)})

	id := enqueue(t, st, "export")
	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	tc := <-got
	if err := tc.Fail(tc.Task(), errors.New("disk full")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	task := taskByID(t, st, id)
	if task.Status != model.TaskStatusError {
		t.Errorf("status = %q, want ERROR", task.Status)
	}
	if task.ErrorMessage != "disk full" {
		t.Errorf("ErrorMessage = %q, want %q", task.ErrorMessage, "disk full")
	}
	rec, ok := errSink.Latest(id)
	if !ok {
		t.Fatal("no error record")
	}
	if rec.Error != "disk full" || rec.Task.Status != model.TaskStatusError {
		t.Errorf("error record = %+v", rec)
	}
}

func TestTaskContext_SecondTerminalCallIsNoop(t *testing.T) {
	sched, st, _, errSink := testSetup(t)
	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{Name: "export", Handler: capture(got)})

	id := enqueue(t, st, "export")
	sched.Tick(context.Background())
	tc := <-got

	if err := tc.Complete(tc.Task()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := tc.Fail(tc.Task(), errors.New("late")); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("Fail after Complete = %v, want ErrAlreadyTerminal", err)
	}
	if err := tc.Complete(tc.Task()); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second Complete = %v, want ErrAlreadyTerminal", err)
	}
	if err := tc.Report(context.Background(), 10); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("Report after Complete = %v, want ErrAlreadyTerminal", err)
	}

	if s := taskByID(t, st, id).Status; s != model.TaskStatusFinished {
		t.Errorf("status = %q, want FINISHED", s)
	}
	if _, ok := errSink.Latest(id); ok {
		t.Error("error record written after task finished")
	}
	if n := sched.Inflight(); n != 0 {
		t.Errorf("Inflight = %d, want 0", n)
	}
}

func TestTick_MissingHandlerLeavesRunning(t *testing.T) {
	sched, st, _, errSink := testSetup(t)
	ctx := context.Background()

	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{Name: "export", Handler: capture(got)})

	orphan := enqueue(t, st, "import")
	ok := enqueue(t, st, "export")

	err := sched.Tick(ctx)
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Tick error = %v, want ErrNoHandler", err)
	}
	var derr *DispatchError
	if !errors.As(err, &derr) || derr.TaskID != orphan {
		t.Errorf("DispatchError = %+v, want task %s", derr, orphan)
	}

	if s := taskByID(t, st, orphan).Status; s != model.TaskStatusRunning {
		t.Errorf("orphan status = %q, want RUNNING", s)
	}
	if _, reported := errSink.Latest(orphan); !reported {
		t.Error("missing handler not reported to error sink")
	}

	// The other task in the same tick was still dispatched.
	select {
	case tc := <-got:
		if tc.Task().ID != ok {
			t.Errorf("dispatched %s, want %s", tc.Task().ID, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("healthy task not dispatched")
	}

	// Not retried on the next tick.
	if err := sched.Tick(ctx); err != nil {
		t.Errorf("second Tick = %v, want nil", err)
	}
}

type failingStore struct {
	store.Store
}

func (failingStore) ReadTasks(context.Context) ([]model.Task, error) {
	return nil, errors.New("connection reset")
}

func TestTick_StoreReadFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := NewLoop(failingStore{store.NewMemoryStore(logger)}, DefaultConfig(), logger)
	if err := sched.Tick(context.Background()); err == nil {
		t.Fatal("Tick succeeded on failing store")
	}
}

func TestTick_PolicyWithoutRuleReportsDispatchError(t *testing.T) {
	strict := PolicyFunc(func(task model.Task, failed bool) (model.TaskStatus, error) {
		return "", &model.TransitionError{ID: task.ID, From: task.Status, Failed: failed}
	})
	sched, st, _, _ := testSetup(t, WithPolicy(strict))
	sched.RegisterHandler(Registration{Name: "export", Handler: HandlerFunc(func(context.Context, *TaskContext) {})})
	id := enqueue(t, st, "export")

	err := sched.Tick(context.Background())
	var terr *model.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("Tick error = %v, want TransitionError", err)
	}
	if s := taskByID(t, st, id).Status; s != model.TaskStatusQueued {
		t.Errorf("status = %q, want QUEUED (untouched)", s)
	}
}

func TestHandlerPanicFailsTask(t *testing.T) {
	sched, st, _, errSink := testSetup(t)
	sched.RegisterHandler(Registration{Name: "boom", Handler: HandlerFunc(func(context.Context, *TaskContext) {
		panic("nil map")
	})})
	id := enqueue(t, st, "boom")

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	waitFor(t, time.Second, func() bool { return taskByID(t, st, id).Status == model.TaskStatusError })
	if _, ok := errSink.Latest(id); !ok {
		t.Error("panic not reported to error sink")
	}
}

func TestHandlerEnvironment(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore(logger)
	sched := NewLoop(st, Config{Name: t.Name(), Values: map[string]any{"region": "eu", "user": "ops"}}, logger)

	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{
		Name:        "export",
		Handler:     capture(got),
		Environment: map[string]any{"user": "exporter"},
	})
	enqueue(t, st, "export")
	sched.Tick(context.Background())

	env := (<-got).Environment()
	if env["region"] != "eu" {
		t.Errorf("region = %v, want eu", env["region"])
	}
	if env["user"] != "exporter" {
		t.Errorf("user = %v, want registration value exporter", env["user"])
	}
}

func TestTaskContext_PutIsBoundToTask(t *testing.T) {
	sched, st, results, _ := testSetup(t)
	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{Name: "export", Handler: capture(got)})
	id := enqueue(t, st, "export")
	sched.Tick(context.Background())
	tc := <-got

	forged := tc.Task()
	forged.ID = "task_someone_else"
	tc.Put(forged)

	if _, ok := results.Latest("task_someone_else"); ok {
		t.Error("record attributed to a foreign task id")
	}
	rec, ok := results.Latest(id)
	if !ok || rec.Task.ID != id {
		t.Errorf("record = %+v, want attributed to %s", rec, id)
	}
}

func TestStart_TicksAndStops(t *testing.T) {
	sched, st, _, _ := testSetup(t)
	sched.UpdateEnvironment(EnvironmentUpdate{Interval: ptr(10 * time.Millisecond)})
	sched.RegisterHandler(Registration{Name: "export", Handler: HandlerFunc(func(_ context.Context, tc *TaskContext) {
		tc.Complete(tc.Task())
	})})
	id := enqueue(t, st, "export")

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Start(context.Background()) }()

	waitFor(t, 2*time.Second, func() bool { return taskByID(t, st, id).Status == model.TaskStatusFinished })

	if err := sched.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Start returned %v after Stop, want nil", err)
	}
	if err := sched.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("restart = %v, want ErrAlreadyStarted", err)
	}
	sched.Stop()
}

func TestStart_ContextCancel(t *testing.T) {
	sched, _, _, _ := testSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sched.Start(ctx) }()
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Start = %v, want context.Canceled", err)
	}
}

func TestStop_NeverStarted(t *testing.T) {
	sched, _, _, _ := testSetup(t)
	if err := sched.Stop(); err != nil {
		t.Errorf("Stop = %v", err)
	}
	if err := sched.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestUpdateEnvironment_RearmsTimer(t *testing.T) {
	sched, st, _, _ := testSetup(t)
	sched.UpdateEnvironment(EnvironmentUpdate{Interval: ptr(time.Hour)})
	sched.RegisterHandler(Registration{Name: "export", Handler: HandlerFunc(func(_ context.Context, tc *TaskContext) {
		tc.Complete(tc.Task())
	})})
	id := enqueue(t, st, "export")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Start(ctx)
	defer sched.Stop()

	// Give Start time to arm the hour-long timer.
	time.Sleep(20 * time.Millisecond)
	if err := sched.UpdateEnvironment(EnvironmentUpdate{
		Interval: ptr(10 * time.Millisecond),
		Values:   map[string]any{"k": "v"},
	}); err != nil {
		t.Fatalf("UpdateEnvironment: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return taskByID(t, st, id).Status == model.TaskStatusFinished })

	env := sched.Environment()
	if env.Interval != 10*time.Millisecond || env.Values["k"] != "v" {
		t.Errorf("environment = %+v", env)
	}
}

func TestUpdateEnvironment_RejectsNonPositiveInterval(t *testing.T) {
	sched, _, _, _ := testSetup(t)
	if err := sched.UpdateEnvironment(EnvironmentUpdate{Interval: ptr(time.Duration(0))}); err == nil {
		t.Error("zero interval accepted")
	}
	if got := sched.Environment().Interval; got != DefaultInterval {
		t.Errorf("Interval = %v, want unchanged %v", got, DefaultInterval)
	}
}

func TestDrain(t *testing.T) {
	sched, st, _, _ := testSetup(t)
	release := make(chan struct{})
	sched.RegisterHandler(Registration{Name: "export", Handler: HandlerFunc(func(_ context.Context, tc *TaskContext) {
		go func() {
			<-release
			tc.Complete(tc.Task())
		}()
	})})
	enqueue(t, st, "export")
	enqueue(t, st, "export")
	sched.Tick(context.Background())

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sched.Drain(short); err == nil {
		t.Fatal("Drain returned before tasks finished")
	}

	close(release)
	long, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := sched.Drain(long); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

// Two schedulers with their own stores and intervals report into one
// shared result sink; every record must carry the id of the task it is about.
func TestTwoSchedulersShareResultSink(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	shared := sink.NewMemory()

	progressHandler := HandlerFunc(func(ctx context.Context, tc *TaskContext) {
		go func() {
			for p := 25.0; p <= 100; p += 25 {
				tc.Report(ctx, p)
				time.Sleep(time.Millisecond)
			}
			tc.Complete(tc.Task())
		}()
	})

	type instance struct {
		loop *Loop
		st   store.Store
		ids  map[string]bool
	}
	var instances []*instance
	for _, iv := range []time.Duration{10 * time.Millisecond, 5 * time.Millisecond} {
		st := store.NewMemoryStore(logger)
		l := NewLoop(st, Config{Name: t.Name() + iv.String(), Interval: iv}, logger, WithResultSink(shared))
		l.RegisterHandler(Registration{Name: "export", Handler: progressHandler})
		inst := &instance{loop: l, st: st, ids: map[string]bool{}}
		for i := 0; i < 3; i++ {
			inst.ids[enqueue(t, st, "export")] = true
		}
		instances = append(instances, inst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			l.Start(ctx)
		}(inst.loop)
	}

	for _, inst := range instances {
		for id := range inst.ids {
			waitFor(t, 3*time.Second, func() bool { return taskByID(t, inst.st, id).Status == model.TaskStatusFinished })
		}
	}
	cancel()
	wg.Wait()

	for _, rec := range shared.Records() {
		if rec.Task.ID != rec.TaskID {
			t.Errorf("record for %s carries task %s", rec.TaskID, rec.Task.ID)
		}
		owners := 0
		for _, inst := range instances {
			if inst.ids[rec.TaskID] {
				owners++
			}
		}
		if owners != 1 {
			t.Errorf("record %s owned by %d schedulers, want 1", rec.TaskID, owners)
		}
	}
	for _, inst := range instances {
		for id := range inst.ids {
			recs := shared.For(id)
			if len(recs) != 5 {
				t.Errorf("task %s has %d records, want 4 progress + 1 final", id, len(recs))
			}
		}
	}
}

func TestReport_ConcurrentWithStatusWrite(t *testing.T) {
	sched, st, _, _ := testSetup(t)
	got := make(chan *TaskContext, 1)
	sched.RegisterHandler(Registration{Name: "export", Handler: capture(got)})
	id := enqueue(t, st, "export")
	sched.Tick(context.Background())
	tc := <-got

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			tc.Report(context.Background(), p)
		}(float64(i * 10))
	}
	wg.Wait()

	task := taskByID(t, st, id)
	if task.Status != model.TaskStatusRunning {
		t.Errorf("status = %q, want RUNNING", task.Status)
	}
	if task.Progress != tc.Task().Progress {
		t.Errorf("store progress %v != context progress %v", task.Progress, tc.Task().Progress)
	}
	if task.StartedAt == nil || task.Type != "export" {
		t.Errorf("fields lost in merge: %+v", task)
	}
}

func ptr[T any](v T) *T { return &v }
