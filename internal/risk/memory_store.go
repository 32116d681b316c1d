package risk

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]byte // walletID → JSON snapshot
	scores      map[string]float64
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]byte),
		scores:      make(map[string]float64),
	}
}

// Save stores a JSON snapshot so callers never share nested slices with the store.
func (s *MemoryStore) Save(_ context.Context, a *Assessment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.WalletID] = raw
	s.scores[a.WalletID] = a.Score
	return nil
}

func (s *MemoryStore) Get(_ context.Context, walletID string) (*Assessment, error) {
	s.mu.RLock()
	raw, ok := s.assessments[walletID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var a Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MemoryStore) ListHighRisk(ctx context.Context, minScore float64, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	ids := make([]string, 0)
	for id, score := range s.scores {
		if score >= minScore {
			ids = append(ids, id)
		}
	}
	scores := s.scores
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Assessment, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if err != nil {
			continue // deleted concurrently
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assessments, walletID)
	delete(s.scores, walletID)
	return nil
}
