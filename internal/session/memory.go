package session

import (
	"context"
	"sync"
)

// MemoryStore keeps everything for the process lifetime only.
type MemoryStore struct {
	mu    sync.RWMutex
	kv    map[string]string
	costs []CostEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) LogCost(_ context.Context, entry *CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs = append(m.costs, *entry)
	return nil
}

func (m *MemoryStore) SessionCost(_ context.Context, sessionID string) (*CostSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summary CostSummary
	for _, e := range m.costs {
		if e.SessionID != sessionID {
			continue
		}
		summary.TotalCost += e.Cost
		summary.ImageCount += e.ImageCount
		summary.EntryCount++
	}
	return &summary, nil
}

func (m *MemoryStore) TotalCost(_ context.Context) (*CostSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var summary CostSummary
	for _, e := range m.costs {
		summary.TotalCost += e.Cost
		summary.ImageCount += e.ImageCount
		summary.EntryCount++
	}
	return &summary, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
