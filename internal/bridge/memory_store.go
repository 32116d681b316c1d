package bridge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/mbd888/chainwatch/internal/chains"
	"github.com/mbd888/chainwatch/internal/transactions"
)

// MemoryStore is an in-memory transfer store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
}

// NewMemoryStore creates an in-memory transfer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transfers: make(map[string]*Transfer)}
}

func (m *MemoryStore) Upsert(_ context.Context, t *Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.transfers[t.Key()]; ok && cur.Status.Terminal() && !t.Status.Terminal() {
		return nil
	}
	cp := *t
	m.transfers[t.Key()] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, chain chains.ID, hash string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transfers[transactions.Key(chain, hash)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListBySources(_ context.Context, refs []transactions.Ref) ([]*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transfer
	for _, t := range m.transfers {
		if matchesRef(t, refs) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (m *MemoryStore) DestinationUsed(_ context.Context, chain chains.ID, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.transfers {
		if t.DestinationChain == chain && t.DestinationTxHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) DeleteBySources(_ context.Context, refs []transactions.Ref) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, t := range m.transfers {
		if matchesRef(t, refs) {
			delete(m.transfers, k)
			n++
		}
	}
	return n, nil
}

func matchesRef(t *Transfer, refs []transactions.Ref) bool {
	for _, r := range refs {
		if t.SourceChain == r.Chain && strings.EqualFold(t.SourceAddress, r.Address) {
			return true
		}
	}
	return false
}

func sortOldestFirst(ts []*Transfer) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].InitiatedAt.Equal(ts[j].InitiatedAt) {
			return ts[i].InitiatedAt.Before(ts[j].InitiatedAt)
		}
		return ts[i].Key() < ts[j].Key()
	})
}
