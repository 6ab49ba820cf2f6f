package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/fxamacker/cbor/v2"

	"github.com/me/tasker/pkg/model"
)

var (
	taskPrefix  = []byte("task/")
	indexPrefix = []byte("id/")
	seqKey      = []byte("meta/seq")
)

// Tasks are stored as CBOR. Maps decode as map[string]any so meta survives
// a round trip through JSON encoders; times keep nanoseconds.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = (cbor.EncOptions{Time: cbor.TimeRFC3339Nano}).EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}).DecMode(); err != nil {
		panic(err)
	}
}

// BadgerStore implements Store on BadgerDB. Tasks live under task/<seq> so
// iteration order is insertion order; id/<task id> points at the sequence key.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
}

// NewBadgerStore opens (or creates) a Badger database in dir. An empty dir
// opens an in-memory database (useful in tests).
func NewBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	logger = logger.With("component", "store")

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger})
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq, logger: logger}, nil
}

// Close releases unused sequence numbers and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("release sequence", "error", err)
	}
	return s.db.Close()
}

func (s *BadgerStore) ReadTasks(ctx context.Context) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tasks := []model.Task{}
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = taskPrefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(taskPrefix); it.ValidForPrefix(taskPrefix); it.Next() {
			var task model.Task
			if err := it.Item().Value(func(val []byte) error {
				return cborDec.Unmarshal(val, &task)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *BadgerStore) AddTask(ctx context.Context, task model.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	n, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}

	task.ID = NewTaskID()
	task.Status = model.TaskStatusQueued
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	val, err := cborEnc.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}

	key := taskKey(n)
	if err := s.db.Update(func(tx *badger.Txn) error {
		if err := tx.Set(key, val); err != nil {
			return err
		}
		return tx.Set(indexKey(task.ID), key)
	}); err != nil {
		return "", err
	}
	s.logger.Debug("task added", "task_id", task.ID, "task", task.Type)
	return task.ID, nil
}

// UpdateTask merges u in a read-modify-write transaction. Concurrent merges
// on one task conflict in Badger; the loser is retried with backoff.
func (s *BadgerStore) UpdateTask(ctx context.Context, u model.TaskUpdate) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		err := s.db.Update(func(tx *badger.Txn) error { return s.merge(tx, u) })
		if errors.Is(err, badger.ErrConflict) {
			s.logger.Debug("update conflict, retrying", "task_id", u.ID)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func (s *BadgerStore) merge(tx *badger.Txn, u model.TaskUpdate) error {
	item, err := tx.Get(indexKey(u.ID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Debug("update for unknown task ignored", "task_id", u.ID)
		return nil
	}
	if err != nil {
		return err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}

	item, err = tx.Get(key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	var task model.Task
	if err := item.Value(func(val []byte) error { return cborDec.Unmarshal(val, &task) }); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}

	u.Apply(&task)
	val, err := cborEnc.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return tx.Set(key, val)
}

func taskKey(n uint64) []byte {
	return fmt.Appendf(append([]byte{}, taskPrefix...), "%020d", n)
}

func indexKey(id string) []byte {
	return append(append([]byte{}, indexPrefix...), id...)
}

// badgerLogger routes Badger's printf-style logging into slog. Badger's
// info output is chatty, so it goes to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, a ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

func (l *badgerLogger) Warningf(format string, a ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

func (l *badgerLogger) Infof(format string, a ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

func (l *badgerLogger) Debugf(format string, a ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, a...)))
}
