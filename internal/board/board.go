// Package board aggregates sink records into a per-task progress board with
// finish placements.
package board

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/pkg/model"
)

// Entry is one row of the board.
type Entry struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Task         string           `json:"task"`
	Status       model.TaskStatus `json:"status"`
	Progress     float64          `json:"progress"`
	ErrorMessage string           `json:"error_message,omitempty"`
	// Place is the finishing position, 1 for the first task to reach 100.
	// Zero until the task gets there.
	Place int `json:"place,omitempty"`
}

// Board is a sink that keeps the latest view of every task it has seen.
// Result and error sinks of several schedulers may all point at one Board.
type Board struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	order     []string
	nextPlace int
	notify    sink.Sink
}

// New creates an empty board. Every record that changes the board is passed
// on to notify, which may be nil.
func New(notify sink.Sink) *Board {
	if notify == nil {
		notify = sink.Discard
	}
	return &Board{entries: make(map[string]*Entry), nextPlace: 1, notify: notify}
}

func (b *Board) Put(rec sink.Record) {
	if rec.TaskID == "" {
		return
	}

	b.mu.Lock()
	e, ok := b.entries[rec.TaskID]
	if !ok {
		e = &Entry{ID: rec.TaskID, Task: rec.Task.Type, Name: name(rec.Task.Type, rec.TaskID)}
		b.entries[rec.TaskID] = e
		b.order = append(b.order, rec.TaskID)
	}
	if rec.Task.Status != "" {
		e.Status = rec.Task.Status
	}
	if rec.Error != "" {
		e.ErrorMessage = rec.Error
	} else {
		e.Progress = clamp(rec.Task.Progress)
	}
	if e.Progress == 100 && e.Place == 0 {
		e.Place = b.nextPlace
		b.nextPlace++
	}
	b.mu.Unlock()

	b.notify.Put(rec)
}

// Get returns the entry for id.
func (b *Board) Get(id string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns every entry in the order the tasks were first seen.
func (b *Board) Snapshot() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.entries[id])
	}
	return out
}

// Render writes the board as a text table with a progress bar per task.
func (b *Board) Render(w io.Writer) error {
	return Render(w, b.Snapshot())
}

// Render writes entries as a text table.
func Render(w io.Writer, entries []Entry) error {
	if _, err := fmt.Fprintf(w, "%-45s  %-9s  %5s  %-22s  %s\n", "NAME", "STATUS", "PROG", "", "PLACE"); err != nil {
		return err
	}
	for _, e := range entries {
		place := ""
		if e.Place > 0 {
			place = fmt.Sprintf("#%d", e.Place)
		}
		if e.ErrorMessage != "" {
			place = "error: " + e.ErrorMessage
		}
		if _, err := fmt.Fprintf(w, "%-45s  %-9s  %4.0f%%  %s  %s\n",
			e.Name, e.Status, e.Progress, bar(e.Progress, 20), place); err != nil {
			return err
		}
	}
	return nil
}

// Done reports whether every entry has reached a terminal status.
func Done(entries []Entry) bool {
	for _, e := range entries {
		if !e.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func name(taskType, id string) string {
	if taskType == "" {
		return id
	}
	r, size := utf8.DecodeRuneInString(taskType)
	return string(unicode.ToUpper(r)) + taskType[size:] + " " + id
}

func clamp(p float64) float64 {
	return max(0, min(p, 100))
}

func bar(progress float64, width int) string {
	filled := int(progress / 100 * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
