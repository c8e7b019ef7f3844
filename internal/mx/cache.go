package mx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/busybox42/sockmailer/internal/cache"
	"github.com/busybox42/sockmailer/internal/metrics"
)

const keyPrefix = "mx:"

// Cache memoizes resolutions per lowercased domain. Concurrent lookups of
// the same domain share one resolver call. Failed lookups are not cached.
type Cache struct {
	resolver Resolver
	store    cache.Store
	ttl      time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	group   singleflight.Group
	lookups atomic.Int64
	hits    atomic.Int64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the entry lifetime in the store. Zero, the default, keeps
// entries for the life of the store.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithMetrics records lookups and hits.
func WithMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l.With("component", "mx-cache") }
}

// NewCache wraps resolver. A nil store uses a connected in-memory store.
func NewCache(resolver Resolver, store cache.Store, opts ...CacheOption) *Cache {
	if store == nil {
		mem := cache.NewMemory()
		_ = mem.Connect()
		store = mem
	}

	c := &Cache{
		resolver: resolver,
		store:    store,
		logger:   slog.Default().With("component", "mx-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the exchange host for domain.
func (c *Cache) Resolve(ctx context.Context, domain string) (string, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" {
		return "", errors.New("empty domain")
	}
	key := keyPrefix + domain

	if host, ok := c.cached(ctx, key); ok {
		return host, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another caller may have stored it between our miss and Do
		if host, ok := c.cached(ctx, key); ok {
			return host, nil
		}

		c.lookups.Add(1)
		host, err := c.resolver.LookupMX(ctx, domain)
		if c.metrics != nil {
			c.metrics.MXLookups.WithLabelValues(metrics.Result(err == nil)).Inc()
		}
		if err != nil {
			return "", err
		}

		if err := c.store.Set(ctx, key, host, c.ttl); err != nil {
			c.logger.Warn("failed to store MX resolution",
				"domain", domain,
				"store", c.store.Type(),
				"error", err)
		}

		c.logger.Debug("MX resolved", "domain", domain, "host", host)
		return host, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", domain, err)
	}
	return v.(string), nil
}

func (c *Cache) cached(ctx context.Context, key string) (string, bool) {
	host, err := c.store.Get(ctx, key)
	if err == nil {
		c.hits.Add(1)
		if c.metrics != nil {
			c.metrics.MXCacheHits.Inc()
		}
		return host, true
	}
	if !errors.Is(err, cache.ErrNotFound) {
		c.logger.Warn("MX cache read failed", "key", key, "error", err)
	}
	return "", false
}

// Lookups returns how many resolver calls the cache has made.
func (c *Cache) Lookups() int64 { return c.lookups.Load() }

// Hits returns how many resolutions were answered from the store.
func (c *Cache) Hits() int64 { return c.hits.Load() }
