// Package ui serves the HTML progress board.
package ui

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/tasker/internal/board"
	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/internal/store"
	"github.com/me/tasker/pkg/model"
)

// Config holds UI configuration.
type Config struct {
	// EventsURL is the event stream the page subscribes to for live updates.
	EventsURL string
	// MaxIncrement and MaxStep bound the random meta of exports added from the page.
	MaxIncrement int
	MaxStep      time.Duration
}

// DefaultConfig returns the settings used by the server.
func DefaultConfig() Config {
	return Config{
		EventsURL:    "/api/v1/sse/board",
		MaxIncrement: 20,
		MaxStep:      10 * time.Second,
	}
}

// UI handles the web user interface.
type UI struct {
	store  store.Store
	board  *board.Board
	verify func(types ...string) error
	config Config
	logger *slog.Logger
}

// New creates a new UI handler. verify, when non-nil, is asked before a task
// type is enqueued.
func New(st store.Store, b *board.Board, verify func(types ...string) error, logger *slog.Logger, cfg Config) *UI {
	return &UI{
		store:  st,
		board:  b,
		verify: verify,
		config: cfg,
		logger: logger.With("component", "ui"),
	}
}

// RegisterRoutes registers all UI routes on the given router.
func (ui *UI) RegisterRoutes(r chi.Router) {
	r.Get("/", ui.HandleBoard)
	r.Post("/exports", ui.HandleAddExport)
}

// HandleBoard renders the board page.
func (ui *UI) HandleBoard(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title":     "Tasker",
		"Entries":   ui.board.Snapshot(),
		"EventsURL": ui.config.EventsURL,
		"Error":     r.URL.Query().Get("error"),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderTemplate(w, "board", data); err != nil {
		ui.logger.Error("render board", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// HandleAddExport enqueues an export with a random increment and step
// interval, puts it on the board and redirects back to it.
func (ui *UI) HandleAddExport(w http.ResponseWriter, r *http.Request) {
	id, err := ui.addExport(r.Context())
	if err != nil {
		ui.logger.Warn("add export", "error", err)
		http.Redirect(w, r, "/?error="+url.QueryEscape(err.Error()), http.StatusSeeOther)
		return
	}
	ui.logger.Info("export added", "task_id", id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (ui *UI) addExport(ctx context.Context) (string, error) {
	const taskType = "export"
	if ui.verify != nil {
		if err := ui.verify(taskType); err != nil {
			return "", err
		}
	}

	maxStep := max(int(ui.config.MaxStep.Milliseconds()), 1)
	task := model.Task{
		Type: taskType,
		Meta: map[string]any{
			"increment": rand.IntN(max(ui.config.MaxIncrement, 1)) + 1,
			"interval":  rand.IntN(maxStep) + 1,
		},
	}
	id, err := ui.store.AddTask(ctx, task)
	if err != nil {
		return "", err
	}
	task.ID = id
	task.Status = model.TaskStatusQueued
	ui.board.Put(sink.Record{TaskID: id, Task: task, At: time.Now().UTC()})
	return id, nil
}
