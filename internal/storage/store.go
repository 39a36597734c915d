// Package storage persists task records.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// TaskStore holds task records. Update is a read-modify-write that is atomic
// with respect to other Updates of the same task.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	// Update loads the task, applies fn and saves the result unless fn errors.
	Update(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error)
	Close() error
}

// New returns a Postgres store when DATABASE_URL is set, otherwise an
// in-memory one.
func New(ctx context.Context, cfg *config.Config) (TaskStore, error) {
	if cfg.DatabaseURL == "" {
		return NewMemory(), nil
	}
	pg, err := NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// Memory is a TaskStore for a single process.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*model.Task)}
}

func (m *Memory) Create(ctx context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.NewNotFoundError("task", id)
	}
	return t.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, id string, fn func(*model.Task) error) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.NewNotFoundError("task", id)
	}
	next := t.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.tasks[id] = next
	return next.Clone(), nil
}

func (m *Memory) Close() error { return nil }

var _ TaskStore = (*Memory)(nil)
