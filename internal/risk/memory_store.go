package risk

import (
	"context"
	"sync"
	"time"
)

// MemoryProfileStore implements ProfileStore in memory.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryProfileStore creates an in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*Profile),
	}
}

func (m *MemoryProfileStore) GetOrCreate(_ context.Context, accountID string) (*Profile, error) {
	m.mu.RLock()
	p, ok := m.profiles[accountID]
	m.mu.RUnlock()
	if ok {
		cp := *p
		return &cp, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[accountID]; ok {
		cp := *p
		return &cp, nil
	}
	p = &Profile{
		AccountID:         accountID,
		MeanAmountCents:   DefaultMeanAmountCents,
		StddevAmountCents: DefaultStddevAmountCents,
		CreatedAt:         time.Now(),
	}
	m.profiles[accountID] = p
	cp := *p
	return &cp, nil
}

// Put replaces an account's profile. Used by tests and seed tooling.
func (m *MemoryProfileStore) Put(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.AccountID] = &cp
}

// MemoryAssessmentStore implements AssessmentStore in memory.
type MemoryAssessmentStore struct {
	mu          sync.RWMutex
	assessments []*Assessment
}

// NewMemoryAssessmentStore creates an in-memory assessment store.
func NewMemoryAssessmentStore() *MemoryAssessmentStore {
	return &MemoryAssessmentStore{}
}

func (m *MemoryAssessmentStore) Record(_ context.Context, a *Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.assessments = append(m.assessments, &cp)
	return nil
}

func (m *MemoryAssessmentStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Assessment
	// Newest first.
	for i := len(m.assessments) - 1; i >= 0; i-- {
		a := m.assessments[i]
		if a.AccountID != accountID {
			continue
		}
		cp := *a
		results = append(results, &cp)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}
