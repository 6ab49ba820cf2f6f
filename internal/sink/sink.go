// Package sink defines the write-only destinations the scheduler and its
// handlers report to. A sink may store, forward or drop what it is given.
package sink

import (
	"time"

	"github.com/me/tasker/pkg/model"
)

// Record is one observation about a task. TaskID always names the task the
// record is about; Error is set only for error records.
type Record struct {
	TaskID string     `json:"task_id"`
	Task   model.Task `json:"task"`
	Error  string     `json:"error,omitempty"`
	At     time.Time  `json:"at"`
}

// Sink accepts records. Put must not block for long: it runs on the caller's
// goroutine and there is no back-pressure.
type Sink interface {
	Put(rec Record)
}

// Func adapts a plain function to a Sink.
type Func func(rec Record)

func (f Func) Put(rec Record) { f(rec) }

// Discard drops every record.
var Discard Sink = Func(func(Record) {})

// Multi fans a record out to every sink in order.
type Multi []Sink

func (m Multi) Put(rec Record) {
	for _, s := range m {
		s.Put(rec)
	}
}
