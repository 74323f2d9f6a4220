package confirm

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Confirmation
	ordered []string
}

// NewMemoryStore creates an in-memory confirmation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Confirmation),
	}
}

func (m *MemoryStore) Create(_ context.Context, c *Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.byID[c.ID] = &cp
	m.ordered = append(m.ordered, c.ID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, c *Confirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[c.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.IsTerminal() {
		return ErrAlreadyResolved
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *MemoryStore) RecordTransaction(_ context.Context, id, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != StatusConfirmed {
		return ErrAlreadyResolved
	}
	stored.TransactionID = transactionID
	return nil
}

func (m *MemoryStore) GetPendingBySession(_ context.Context, sessionID string) (*Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Newest first: a session holds at most one pending confirmation, but
	// resolved ones accumulate.
	for i := len(m.ordered) - 1; i >= 0; i-- {
		c := m.byID[m.ordered[i]]
		if c.SessionID == sessionID && c.Status == StatusPending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListExpired(_ context.Context, before time.Time, limit int) ([]*Confirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Confirmation
	for _, id := range m.ordered {
		c := m.byID[id]
		if c.Status != StatusPending || !c.ExpiresAt.Before(before) {
			continue
		}
		cp := *c
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
