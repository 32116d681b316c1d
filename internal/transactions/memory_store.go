package transactions

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/chainwatch/internal/chains"
)

// MemoryStore is an in-memory Store for tests and database-less runs.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*Transaction)}
}

func (m *MemoryStore) Insert(_ context.Context, txs []*Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, tx := range txs {
		if _, ok := m.txs[tx.Key()]; ok {
			continue
		}
		m.txs[tx.Key()] = clone(tx)
		n++
	}
	return n, nil
}

func (m *MemoryStore) Hashes(_ context.Context, chain chains.ID, address string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct{})
	for _, tx := range m.txs {
		if tx.Chain == chain && tx.Involves(address) {
			out[tx.Hash] = struct{}{}
		}
	}
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, chain chains.ID, hash string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[Key(chain, hash)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(tx), nil
}

func (m *MemoryStore) ListByAddress(_ context.Context, chain chains.ID, address string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	var out []*Transaction
	for _, tx := range m.txs {
		if tx.Chain == chain && tx.Involves(address) {
			out = append(out, clone(tx))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListInbound(_ context.Context, chain chains.ID, address string, since time.Time) ([]*Transaction, error) {
	m.mu.RLock()
	var out []*Transaction
	for _, tx := range m.txs {
		if tx.Chain == chain && tx.IsBridge && tx.Status == StatusSuccess &&
			!tx.Timestamp.Before(since) && tx.Involves(address) && !strings.EqualFold(tx.From, address) {
			out = append(out, clone(tx))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) UpdateRiskScore(_ context.Context, chain chains.ID, hash string, score int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[Key(chain, hash)]
	if !ok {
		return ErrNotFound
	}
	tx.RiskScore = score
	return nil
}

func (m *MemoryStore) DeleteByRefs(_ context.Context, refs []Ref) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, tx := range m.txs {
		for _, r := range refs {
			if tx.Chain == r.Chain && tx.Involves(r.Address) {
				delete(m.txs, key)
				n++
				break
			}
		}
	}
	return n, nil
}

func sortNewestFirst(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].Hash < txs[j].Hash
	})
}

func clone(tx *Transaction) *Transaction {
	cp := *tx
	cp.Touched = append([]string(nil), tx.Touched...)
	cp.TokenTransfers = append([]TokenTransfer(nil), tx.TokenTransfers...)
	return &cp
}
