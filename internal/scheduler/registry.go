package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Handler performs the work of one task type. Handle is started on its own
// goroutine and may return before the work is done, as long as the task is
// eventually ended through tc.Complete or tc.Fail.
type Handler interface {
	Handle(ctx context.Context, tc *TaskContext)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(ctx context.Context, tc *TaskContext)

func (f HandlerFunc) Handle(ctx context.Context, tc *TaskContext) {
	f(ctx, tc)
}

// Registration binds a handler to a task type name, with optional
// handler-local environment values.
type Registration struct {
	Name        string
	Handler     Handler
	Environment map[string]any
}

// Registry maps task type names to registrations. Each scheduler owns its own.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Registration
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Registration),
		logger:   logger.With("component", "handler-registry"),
	}
}

// Register adds reg, replacing any earlier registration under the same name.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return errors.New("register handler: empty name")
	}
	if reg.Handler == nil {
		return fmt.Errorf("register handler %q: nil handler", reg.Name)
	}
	reg.Environment = maps.Clone(reg.Environment)

	r.mu.Lock()
	_, replaced := r.handlers[reg.Name]
	r.handlers[reg.Name] = reg
	r.mu.Unlock()

	r.logger.Info("handler registered", "task", reg.Name, "replaced", replaced)
	return nil
}

// Resolve returns the registration for name or an error wrapping ErrNoHandler.
func (r *Registry) Resolve(name string) (Registration, error) {
	r.mu.RLock()
	reg, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Registration{}, fmt.Errorf("%w for task type %q", ErrNoHandler, name)
	}
	return reg, nil
}

// Verify checks that every given task type has a handler. All missing types
// are reported in one error.
func (r *Registry) Verify(types ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, t := range types {
		if _, ok := r.handlers[t]; !ok && !slices.Contains(missing, t) {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for task types %q", ErrNoHandler, missing)
	}
	return nil
}

// Names returns the registered task type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}
