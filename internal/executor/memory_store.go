package executor

import (
	"context"
	"sync"
	"time"
)

// MemoryLogStore implements LogStore in memory.
type MemoryLogStore struct {
	mu   sync.RWMutex
	logs []*Log
}

// NewMemoryLogStore creates an in-memory transaction log.
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

func (m *MemoryLogStore) Record(_ context.Context, l *Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemoryLogStore) ListByAccount(_ context.Context, accountID string, limit int) ([]*Log, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Log
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].AccountID != accountID {
			continue
		}
		cp := *m.logs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type usageKey struct {
	accountID   string
	category    string
	periodStart time.Time
}

// MemoryBudgetStore implements BudgetStore in memory.
type MemoryBudgetStore struct {
	mu      sync.RWMutex
	budgets []*Budget
	usage   map[usageKey]int64
}

// NewMemoryBudgetStore creates an in-memory budget store.
func NewMemoryBudgetStore() *MemoryBudgetStore {
	return &MemoryBudgetStore{
		usage: make(map[usageKey]int64),
	}
}

// PutBudget registers a budget. Used by tests and seed tooling.
func (m *MemoryBudgetStore) PutBudget(b *Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.budgets = append(m.budgets, &cp)
}

func (m *MemoryBudgetStore) ActiveBudgets(_ context.Context, accountID, category string, at time.Time) ([]*Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Budget
	for _, b := range m.budgets {
		if b.AccountID != accountID || b.Category != category {
			continue
		}
		if at.Before(b.PeriodStart) || (!b.PeriodEnd.IsZero() && at.After(b.PeriodEnd)) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryBudgetStore) AddUsage(_ context.Context, accountID, category string, periodStart, _ time.Time, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey{accountID: accountID, category: category, periodStart: periodStart}
	m.usage[k] += amountCents
	return nil
}

// Usage returns the accumulated usage for an account, category and period.
func (m *MemoryBudgetStore) Usage(accountID, category string, periodStart time.Time) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usage[usageKey{accountID: accountID, category: category, periodStart: periodStart}]
}
