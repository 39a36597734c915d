package cache

import (
	"context"
	"sync"
	"time"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/errors"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

// Memory is an in-process Store. Results are shared by pointer and must be
// treated as read-only.
type Memory struct {
	ttls TTLs
	now  func() time.Time

	mu      sync.Mutex
	results map[string]*Entry
	claims  map[string]*Entry
}

// NewMemory creates an empty in-process cache.
func NewMemory(ttls TTLs) *Memory {
	return &Memory{
		ttls:    ttls.withDefaults(),
		now:     time.Now,
		results: make(map[string]*Entry),
		claims:  make(map[string]*Entry),
	}
}

func (m *Memory) Claim(ctx context.Context, fp, taskID string, reuseDone bool) (*Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	if reuseDone {
		if e := m.live(m.results, fp, now); e != nil {
			c := *e
			return &c, false, nil
		}
	}
	if e := m.live(m.claims, fp, now); e != nil {
		c := *e
		return &c, false, nil
	}
	m.claims[fp] = &Entry{Fingerprint: fp, State: StatePending, TaskID: taskID, ExpiresAt: now.Add(m.ttls.Claim)}
	return nil, true, nil
}

func (m *Memory) Complete(ctx context.Context, fp, taskID string, result *model.DocumentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[fp] = &Entry{Fingerprint: fp, State: StateDone, TaskID: taskID, Result: result, ExpiresAt: m.now().Add(m.ttls.Result)}
	if e, ok := m.claims[fp]; ok && e.TaskID == taskID {
		delete(m.claims, fp)
	}
	return nil
}

func (m *Memory) Release(ctx context.Context, fp, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.claims[fp]; ok && e.TaskID == taskID {
		delete(m.claims, fp)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, fp string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e := m.live(m.results, fp, now); e != nil {
		c := *e
		return &c, nil
	}
	if e := m.live(m.claims, fp, now); e != nil {
		c := *e
		return &c, nil
	}
	return nil, errors.ErrNotFound
}

func (m *Memory) Close() error { return nil }

// live returns the unexpired entry for fp, evicting an expired one.
func (m *Memory) live(entries map[string]*Entry, fp string, now time.Time) *Entry {
	e, ok := entries[fp]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(entries, fp)
		return nil
	}
	return e
}
