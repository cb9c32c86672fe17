package sessioncache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and the "memory" backend
// selection, mirroring store.MemoryStore's shape.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[sessionID]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SessionID] = state
	return nil
}

func (m *MemoryStore) Invalidate(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

func (m *MemoryStore) CleanupOldStates(ctx context.Context, maxAgeHours int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	var removed int64
	for id, s := range m.states {
		if s.LastCallAt.Before(cutoff) {
			delete(m.states, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) AggregateStats(ctx context.Context) (AggregateStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats AggregateStats
	var totalPrefixTokens int64
	for _, s := range m.states {
		stats.TotalSessions++
		stats.TotalRequests += s.TotalRequests
		stats.TotalCachedTokens += s.TotalCachedTokens
		totalPrefixTokens += s.StaticPrefixTokens
	}
	if stats.TotalSessions > 0 {
		stats.AvgPrefixTokens = float64(totalPrefixTokens) / float64(stats.TotalSessions)
	}
	return stats, nil
}
