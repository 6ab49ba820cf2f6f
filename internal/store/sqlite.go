package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/tasker/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

func (s *SQLiteStore) ReadTasks(ctx context.Context) ([]model.Task, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, status, meta, progress, error_message, created_at, started_at, completed_at
		 FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) AddTask(ctx context.Context, task model.Task) (string, error) {
	task.ID = NewTaskID()
	task.Status = model.TaskStatusQueued
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "id", task.ID)

	metaJSON, err := marshalMeta(task.Meta)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, task, status, meta, progress, error_message, created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Type, string(task.Status), metaJSON, task.Progress, task.ErrorMessage,
		task.CreatedAt.Format(time.RFC3339Nano), formatTime(task.StartedAt), formatTime(task.CompletedAt),
	)
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// UpdateTask merges u in a single statement. Unset fields bind as NULL and
// COALESCE keeps the stored value.
func (s *SQLiteStore) UpdateTask(ctx context.Context, u model.TaskUpdate) error {
	s.logger.Debug("sql", "op", "update", "table", "tasks", "id", u.ID)

	var status *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}
	metaJSON, err := marshalMeta(u.Meta)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET
		 status        = COALESCE(?, status),
		 meta          = COALESCE(?, meta),
		 progress      = COALESCE(?, progress),
		 error_message = COALESCE(?, error_message),
		 started_at    = COALESCE(?, started_at),
		 completed_at  = COALESCE(?, completed_at)
		 WHERE id = ?`,
		status, metaJSON, u.Progress, u.ErrorMessage,
		formatTime(u.StartedAt), formatTime(u.CompletedAt), u.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		s.logger.Debug("update for unknown task ignored", "task_id", u.ID)
	}
	return nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var task model.Task
	var status, createdAt string
	var metaJSON, startedAt, completedAt *string

	if err := row.Scan(
		&task.ID, &task.Type, &status, &metaJSON, &task.Progress, &task.ErrorMessage,
		&createdAt, &startedAt, &completedAt,
	); err != nil {
		return model.Task{}, err
	}

	task.Status = model.TaskStatus(status)
	if metaJSON != nil {
		if err := json.Unmarshal([]byte(*metaJSON), &task.Meta); err != nil {
			return model.Task{}, fmt.Errorf("unmarshal meta for %s: %w", task.ID, err)
		}
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	task.StartedAt = parseTime(startedAt)
	task.CompletedAt = parseTime(completedAt)
	return task, nil
}

// marshalMeta encodes meta as JSON. Nil meta binds as NULL.
func marshalMeta(meta map[string]any) (*string, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	v := string(data)
	return &v, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339Nano)
	return &v
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
