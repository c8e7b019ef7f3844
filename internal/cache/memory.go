package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value      string
	expiration int64 // unix nanos, 0 = never
}

// Memory is an in-process store. Entries without a TTL live as long as
// the store.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]item
	connected bool
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]item)}
}

// Connect marks the store usable.
func (m *Memory) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]item)
	m.connected = false
	return nil
}

// Type returns "memory".
func (m *Memory) Type() string { return "memory" }

// Get retrieves a value.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return "", ErrNotConnected
	}

	it, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	if it.expiration > 0 && time.Now().UnixNano() > it.expiration {
		return "", ErrNotFound
	}
	return it.value, nil
}

// Set stores a value.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}

	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	m.items[key] = item{value: value, expiration: exp}
	return nil
}

// Delete removes a value.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	delete(m.items, key)
	return nil
}

// size returns the number of stored entries, expired ones included.
func (m *Memory) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
