package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/me/tasker/pkg/model"
)

// MemoryStore implements Store with an in-process slice. Records are copied
// on the way in and out, so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  []model.Task
	index  map[string]int
	logger *slog.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		index:  make(map[string]int),
		logger: logger.With("component", "store"),
	}
}

func (s *MemoryStore) ReadTasks(ctx context.Context) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out, nil
}

func (s *MemoryStore) AddTask(ctx context.Context, task model.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	task = task.Clone()
	task.ID = NewTaskID()
	task.Status = model.TaskStatusQueued
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.index[task.ID] = len(s.tasks)
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	s.logger.Debug("task added", "task_id", task.ID, "task", task.Type)
	return task.ID, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, u model.TaskUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[u.ID]
	if !ok {
		s.logger.Debug("update for unknown task ignored", "task_id", u.ID)
		return nil
	}
	u.Apply(&s.tasks[i])
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
