package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcached implements Store on one memcached server.
type Memcached struct {
	config    Config
	client    *memcache.Client
	connected bool
}

// NewMemcached creates a memcached store; Connect must be called before use.
func NewMemcached(config Config) *Memcached {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 11211
	}
	return &Memcached{config: config}
}

// Connect creates the client and pings the server.
func (m *Memcached) Connect() error {
	if m.connected {
		return nil
	}

	m.client = memcache.New(fmt.Sprintf("%s:%d", m.config.Host, m.config.Port))
	if m.config.Timeout > 0 {
		m.client.Timeout = m.config.Timeout
	}

	if err := m.client.Ping(); err != nil {
		return fmt.Errorf("failed to connect to Memcached: %w", err)
	}

	m.connected = true
	return nil
}

// Close marks the store closed; the client has no persistent state to release.
func (m *Memcached) Close() error {
	m.connected = false
	return nil
}

// Type returns "memcached".
func (m *Memcached) Type() string { return "memcached" }

// Get retrieves a value.
func (m *Memcached) Get(_ context.Context, key string) (string, error) {
	if !m.connected {
		return "", ErrNotConnected
	}

	it, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(it.Value), nil
}

// Set stores a value. Memcached expirations have one-second resolution.
func (m *Memcached) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if !m.connected {
		return ErrNotConnected
	}

	var seconds int32
	if ttl > 0 {
		seconds = int32(ttl.Seconds())
		if seconds == 0 {
			seconds = 1
		}
	}
	return m.client.Set(&memcache.Item{Key: key, Value: []byte(value), Expiration: seconds})
}

// Delete removes a value.
func (m *Memcached) Delete(_ context.Context, key string) error {
	if !m.connected {
		return ErrNotConnected
	}
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
