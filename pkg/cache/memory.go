package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries is the memory tier capacity when none is configured.
const DefaultMemoryEntries = 1000

// MemoryStore is the bounded in-process tier. Least recently used records are
// dropped once the capacity is reached. Safe for concurrent use.
type MemoryStore struct {
	lru *lru.Cache[string, Payload]
}

// NewMemoryStore creates a memory tier holding at most maxEntries records.
func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}

	l, err := lru.NewWithEvict(maxEntries, func(string, Payload) {
		CacheEvictions.WithLabelValues(layerMemory).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &MemoryStore{lru: l}, nil
}

// Set stores a copy of payload under key.
func (m *MemoryStore) Set(key string, payload Payload) {
	m.lru.Add(key, ClonePayload(payload))
}

// Get returns a copy of the payload stored under key.
func (m *MemoryStore) Get(key string) (Payload, bool) {
	payload, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return ClonePayload(payload), true
}

// Remove deletes key. Removing an absent key is a no-op.
func (m *MemoryStore) Remove(key string) {
	m.lru.Remove(key)
}

// Clear drops every record.
func (m *MemoryStore) Clear() {
	m.lru.Purge()
}

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}
