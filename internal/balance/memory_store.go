package balance

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an in-memory balance snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, s *Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snapshots[s.WalletID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, walletID string) (*Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.snapshots[walletID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *MemoryStore) Delete(_ context.Context, walletID string) error {
	m.mu.Lock()
	delete(m.snapshots, walletID)
	m.mu.Unlock()
	return nil
}
