package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/tasker/internal/board"
	"github.com/me/tasker/internal/config"
	"github.com/me/tasker/internal/scheduler"
	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/internal/store"
	"github.com/me/tasker/internal/ui"
)

// Server is the tasker REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
	scheduler *scheduler.Loop
	board     *board.Board      // optional; serves /board
	events    *sink.Broadcaster // optional; feeds /sse/board
	metrics   http.Handler
	ui        *ui.UI // HTML board; set when a board is attached
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithBoard serves b on /board. events, when non-nil, must be the sink b
// notifies; /sse/board streams from it.
func WithBoard(b *board.Board, events *sink.Broadcaster) Option {
	return func(s *Server) {
		s.board = b
		s.events = events
	}
}

// WithMetricsHandler replaces the default Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a new Server with all routes registered.
// sched may be nil if no scheduling is desired (e.g. in tests); POST /tasks
// then skips the handler check.
func New(cfg config.ServerConfig, st store.Store, sched *scheduler.Loop, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		scheduler: sched,
		metrics:   promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.board != nil {
		var verify func(types ...string) error
		if sched != nil {
			verify = sched.Registry().Verify
		}
		uiCfg := ui.DefaultConfig()
		if s.events == nil {
			uiCfg.EventsURL = ""
		}
		s.ui = ui.New(st, s.board, verify, logger, uiCfg)
	}

	s.routes()
	return s
}

// StartScheduler begins the scheduling loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	go func() {
		if err := s.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Handle("/metrics", s.metrics)

	// UI routes (HTML)
	if s.ui != nil {
		s.ui.RegisterRoutes(r)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
		})

		r.Get("/board", s.handleBoard)

		r.Get("/environment", s.handleGetEnvironment)
		r.Put("/environment", s.handleUpdateEnvironment)

		r.Route("/sse", func(r chi.Router) {
			r.Get("/board", s.handleSSEBoard)
		})
	})
}
