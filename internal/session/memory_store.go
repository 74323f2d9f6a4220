package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	return &cp, nil
}

func (m *MemoryStore) Touch(_ context.Context, id, accountID string, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id, AccountID: accountID, CreatedAt: now}
		m.sessions[id] = s
	}
	s.Messages = append(s.Messages, msgs...)
	if len(s.Messages) > MaxMessages {
		s.Messages = s.Messages[len(s.Messages)-MaxMessages:]
	}
	s.LastActiveAt = now
	return nil
}

func (m *MemoryStore) PurgeIdle(_ context.Context, before time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.LastActiveAt.Before(before) {
			delete(m.sessions, id)
			removed++
			if limit > 0 && removed >= limit {
				break
			}
		}
	}
	return removed, nil
}
