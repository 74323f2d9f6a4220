package idempotency

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[r.Key]; exists {
		return fmt.Errorf("idempotency key %q: %w", r.Key, ErrAlreadyExists)
	}
	cp := *r
	m.records[r.Key] = &cp
	return nil
}

func (m *MemoryStore) Update(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[r.Key]
	if !ok || stored.Status == StatusCompleted {
		return ErrNotFound
	}
	cp := *r
	m.records[r.Key] = &cp
	return nil
}
