package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/chainwatch/internal/transactions"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

// NewMemoryStore creates an in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*Wallet)}
}

func (m *MemoryStore) Create(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.ID] = w.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return w.clone(), nil
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*Wallet, error) {
	m.mu.RLock()
	all := make([]*Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		all = append(all, w.clone())
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.wallets), nil
}

func (m *MemoryStore) AddAddress(_ context.Context, id string, ref transactions.Ref, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	if w.Has(ref) {
		return ErrDuplicateAddress
	}
	w.Addresses = append(w.Addresses, ref)
	w.UpdatedAt = at
	return nil
}

func (m *MemoryStore) FindByAddress(_ context.Context, ref transactions.Ref) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, w := range m.wallets {
		if w.Has(ref) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) UpdateBalance(_ context.Context, id string, totalUSD decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.TotalUSD = totalUSD
	w.BalanceUpdatedAt = &at
	w.UpdatedAt = at
	return nil
}

func (m *MemoryStore) UpdateRisk(_ context.Context, id string, score float64, level string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return ErrNotFound
	}
	w.RiskScore = &score
	w.RiskLevel = level
	w.LastAnalyzedAt = &at
	w.UpdatedAt = at
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[id]; !ok {
		return ErrNotFound
	}
	delete(m.wallets, id)
	return nil
}
