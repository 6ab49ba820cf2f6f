package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/tasker/internal/board"
	"github.com/me/tasker/internal/config"
	"github.com/me/tasker/internal/handler"
	"github.com/me/tasker/internal/logging"
	"github.com/me/tasker/internal/scheduler"
	"github.com/me/tasker/internal/server"
	"github.com/me/tasker/internal/sink"
	"github.com/me/tasker/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string
	flags := config.DefaultServerConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultServerConfig()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Flags given on the command line win over the file.
			set := cmd.Flags().Changed
			if set("addr") {
				cfg.Addr = flags.Addr
			}
			if set("store") {
				cfg.Store = flags.Store
			}
			if set("db") {
				cfg.DBPath = flags.DBPath
			}
			if set("interval") {
				cfg.Interval = flags.Interval
			}
			if set("log-level") || set("debug") {
				cfg.LogLevel = flagLogLevel
			}
			if set("log-format") {
				cfg.LogFormat = flagLogFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			level, _ := logging.ParseLevel(cfg.LogLevel)
			format, _ := logging.ParseFormat(cfg.LogFormat)
			log := logging.NewLoggerWithWriter(level, format, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&flags.Addr, "addr", flags.Addr, "Listen address")
	cmd.Flags().StringVar(&flags.Store, "store", flags.Store, "Task store: memory, sqlite or badger")
	cmd.Flags().StringVar(&flags.DBPath, "db", flags.DBPath, "SQLite file or Badger directory (default under ~/.tasker)")
	cmd.Flags().DurationVar(&flags.Interval, "interval", flags.Interval, "Scheduler tick interval")
	return cmd
}

// app is a fully wired scheduler process.
type app struct {
	store  store.Store
	loop   *scheduler.Loop
	board  *board.Board
	events *sink.Broadcaster
	server *server.Server
}

// newApp opens the store and wires the scheduler, handlers, board and API.
func newApp(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	events := sink.NewBroadcaster(64)
	b := board.New(events)

	loop := scheduler.NewLoop(st, scheduler.Config{
		Name:     "tasker",
		Interval: cfg.Interval,
		Values:   cfg.Values,
	}, logger, scheduler.WithResultSink(b), scheduler.WithErrorSink(b))

	if err := registerHandlers(loop, cfg.Handlers, logger); err != nil {
		st.Close()
		return nil, err
	}

	srv := server.New(cfg, st, loop, logger, server.WithBoard(b, events))
	return &app{store: st, loop: loop, board: b, events: events, server: srv}, nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		return store.NewMemoryStore(logger), nil
	}

	dbPath, err := cfg.ResolveDBPath()
	if err != nil {
		return nil, err
	}
	if cfg.Store == config.StoreBadger {
		if dbPath == ":memory:" {
			dbPath = ""
		}
		st, err := store.NewBadgerStore(dbPath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("database ready", "store", cfg.Store, "path", dbPath)
		return st, nil
	}

	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", "store", cfg.Store, "path", dbPath)
	return st, nil
}

// registerHandlers registers the built-in handlers named in envs with their
// environments, or all of them when envs is nil.
func registerHandlers(loop *scheduler.Loop, envs map[string]map[string]any, logger *slog.Logger) error {
	builtin := handler.Builtin(logger)
	if envs == nil {
		envs = make(map[string]map[string]any, len(builtin))
		for name := range builtin {
			envs[name] = nil
		}
	}
	for name, env := range envs {
		h, ok := builtin[name]
		if !ok {
			return fmt.Errorf("unknown handler %q in config", name)
		}
		if err := loop.RegisterHandler(scheduler.Registration{Name: name, Handler: h, Environment: env}); err != nil {
			return err
		}
	}
	return nil
}

func serve(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.store.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.server.StartScheduler(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			a.loop.Stop()
			return fmt.Errorf("listen: %w", err)
		}
	}
	logger.Info("shutting down")

	// Stop scheduler before HTTP server.
	if err := a.loop.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.loop.Drain(shutdownCtx); err != nil {
		logger.Warn("tasks still running at shutdown", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
