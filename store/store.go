// Package store provides the value-store component a DHT node delegates
// store/find_value requests to. It implements dht.ValueStore.
package store

import (
	"sync"

	"github.com/kadnet/kadnet/dht"
	"github.com/kadnet/kadnet/limits"
)

// Memory is an in-process, mutex-protected value store. Values are
// content-addressed: Store derives the key as the SHA-512-truncated digest
// of the value, matching how peer identifiers are derived, so storing the
// same value twice is idempotent and never creates a duplicate entry.
//
// No replication, expiry, or persistence across restarts is implemented.
type Memory struct {
	mu     sync.RWMutex
	values map[dht.Key][]byte
}

// NewMemory returns an empty in-memory value store.
func NewMemory() *Memory {
	return &Memory{values: make(map[dht.Key][]byte)}
}

// Store persists value under its content-derived key.
func (m *Memory) Store(value []byte) (dht.Key, error) {
	if err := limits.ValidateStoredValue(value); err != nil {
		return dht.Key{}, err
	}

	key := dht.HashKey(value)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.values[key]; !exists {
		stored := make([]byte, len(value))
		copy(stored, value)
		m.values[key] = stored
	}
	return key, nil
}

// Retrieve returns the value stored under key, or dht.ErrValueNotFound.
func (m *Memory) Retrieve(key dht.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, dht.ErrValueNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Len reports how many distinct values are currently held, mainly useful
// for tests and diagnostics.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
