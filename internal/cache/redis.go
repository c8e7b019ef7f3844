package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a Redis server.
type Redis struct {
	config    Config
	client    *redis.Client
	connected bool
}

// NewRedis creates a Redis store; Connect must be called before use.
func NewRedis(config Config) *Redis {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 6379
	}
	return &Redis{config: config}
}

// Connect dials Redis and verifies it with PING.
func (r *Redis) Connect() error {
	if r.connected {
		return nil
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password: r.config.Password,
		DB:       r.config.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.connected = true
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if !r.connected {
		return nil
	}
	r.connected = false
	return r.client.Close()
}

// Type returns "redis".
func (r *Redis) Type() string { return "redis" }

// Get retrieves a value.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if !r.connected {
		return "", ErrNotConnected
	}

	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Set stores a value.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !r.connected {
		return ErrNotConnected
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes a value.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if !r.connected {
		return ErrNotConnected
	}
	return r.client.Del(ctx, key).Err()
}
