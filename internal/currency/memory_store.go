package currency

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory rate cache for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	rates map[string]ExchangeRate
}

// NewMemoryStore creates a new in-memory rate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rates: make(map[string]ExchangeRate)}
}

func (m *MemoryStore) Get(ctx context.Context, currencyCode string) (*ExchangeRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rate, ok := m.rates[currencyCode]
	if !ok {
		return nil, ErrRateNotCached
	}
	cp := rate
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rate *ExchangeRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rates[rate.CurrencyCode] = *rate
	return nil
}
