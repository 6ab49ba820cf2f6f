package scheduler

import "context"

// Scheduler polls a task store, dispatches ready tasks to handlers and
// drives their status through the transition policy.
type Scheduler interface {
	// Start begins the polling loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop ends the polling loop after the current tick. Dispatched tasks
	// keep running; use Drain to wait for them.
	Stop() error

	// Tick runs a single polling iteration. Used for testing.
	Tick(ctx context.Context) error

	// RegisterHandler adds or replaces the handler for a task type.
	RegisterHandler(reg Registration) error

	// UpdateEnvironment merges u into the scheduler's environment.
	UpdateEnvironment(u EnvironmentUpdate) error

	// Environment returns a copy of the current environment.
	Environment() Environment
}
