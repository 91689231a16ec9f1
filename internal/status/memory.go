package status

import (
	"context"
	"sync"
)

// MemoryStore keeps statuses for the life of the process. Entries are never
// evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Status)}
}

func (m *MemoryStore) Set(_ context.Context, id string, s Status) error {
	if err := checkSet(id, s); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[id] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.entries[id]; ok {
		return s, nil
	}
	return Unknown, nil
}

// Len returns the number of tracked identifiers.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
