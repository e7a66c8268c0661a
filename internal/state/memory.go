package state

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]StreamSnapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: map[string]StreamSnapshot{}}
}

func (m *MemoryStore) Load(_ context.Context, stream string) (StreamSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.streams[stream]
	return clone(snap), ok, nil
}

func (m *MemoryStore) Save(_ context.Context, stream string, snap StreamSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = clone(snap)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
