package scheduler

import (
	"errors"
	"maps"
	"time"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = 5 * time.Second

// Environment is the mutable configuration of one scheduler instance.
// Values carries caller-defined keys and is handed to every handler.
type Environment struct {
	Interval time.Duration
	Values   map[string]any
}

// EnvironmentUpdate is a partial Environment. Nil Interval keeps the current
// period; Values keys are merged over the existing ones.
type EnvironmentUpdate struct {
	Interval *time.Duration
	Values   map[string]any
}

// Validate rejects updates that would leave the loop without a usable period.
func (u EnvironmentUpdate) Validate() error {
	if u.Interval != nil && *u.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

// Merge returns a copy of e with u applied.
func (e Environment) Merge(u EnvironmentUpdate) Environment {
	out := e.Clone()
	if u.Interval != nil {
		out.Interval = *u.Interval
	}
	if len(u.Values) > 0 {
		if out.Values == nil {
			out.Values = make(map[string]any, len(u.Values))
		}
		maps.Copy(out.Values, u.Values)
	}
	return out
}

// Clone returns a copy of e that shares no maps with it.
func (e Environment) Clone() Environment {
	return Environment{Interval: e.Interval, Values: maps.Clone(e.Values)}
}

// handlerEnvironment layers a registration's own values over the scheduler values.
func handlerEnvironment(env Environment, reg Registration) map[string]any {
	out := make(map[string]any, len(env.Values)+len(reg.Environment))
	maps.Copy(out, env.Values)
	maps.Copy(out, reg.Environment)
	return out
}
