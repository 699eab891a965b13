package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryMedium is a concurrency-safe in-process Medium. It does not survive
// restarts; use it for tests and single-node development.
type MemoryMedium struct {
	mu sync.RWMutex

	// key: cache key, value: serialized entry
	data map[string]string
}

// NewMemoryMedium creates an empty MemoryMedium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{
		data: make(map[string]string),
	}
}

func (m *MemoryMedium) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryMedium) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil
}

// Purge deletes every key with the given prefix for which drop returns true
// and reports how many were removed.
func (m *MemoryMedium) Purge(prefix string, drop func(key, value string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) && drop(k, v) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored keys.
func (m *MemoryMedium) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
