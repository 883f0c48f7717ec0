package localstore

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. It is used in development when
// no database is configured, and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, deviceID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[deviceID][key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, deviceID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.values[deviceID]
	if !ok {
		device = make(map[string]string)
		m.values[deviceID] = device
	}
	device[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, deviceID string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.values[deviceID]
	if !ok {
		return nil
	}
	for _, key := range keys {
		delete(device, key)
	}
	if len(device) == 0 {
		delete(m.values, deviceID)
	}
	return nil
}
