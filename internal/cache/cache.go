// Package cache provides the key/value stores that back the MX cache.
// The memory store is process-local; redis and memcached let several
// sender processes share resolutions.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("key not found in cache")
	ErrNotConnected = errors.New("not connected to cache")
)

// Store is a string key/value store.
type Store interface {
	// Connect establishes a connection to the backend
	Connect() error

	// Close releases the backend connection
	Close() error

	// Type returns the backend type ("memory", "redis", "memcached")
	Type() string

	// Get returns ErrNotFound for a missing or expired key
	Get(ctx context.Context, key string) (string, error)

	// Set stores value; a zero ttl never expires
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a store.
type Config struct {
	Type     string // memory, redis, memcached
	Host     string
	Port     int
	Password string
	Database int           // redis only
	Timeout  time.Duration // memcached only
}

// Factory creates an unconnected store from config. An empty type means memory.
func Factory(config Config) (Store, error) {
	switch config.Type {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(config), nil
	case "memcached":
		return NewMemcached(config), nil
	default:
		return nil, errors.New("unsupported cache type: " + config.Type)
	}
}
