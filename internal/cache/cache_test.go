package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{"", "memory"},
		{"memory", "memory"},
		{"redis", "redis"},
		{"memcached", "memcached"},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+tt.typ, func(t *testing.T) {
			store, err := Factory(Config{Type: tt.typ})
			require.NoError(t, err)
			assert.Equal(t, tt.want, store.Type())
		})
	}

	_, err := Factory(Config{Type: "etcd"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported cache type")
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		m := NewMemory()
		_, err := m.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.ErrorIs(t, m.Set(ctx, "k", "v", 0), ErrNotConnected)
		assert.ErrorIs(t, m.Delete(ctx, "k"), ErrNotConnected)
	})

	t.Run("set get delete", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Connect())

		_, err := m.Get(ctx, "mx:example.com")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, m.Set(ctx, "mx:example.com", "mx1.example.com", 0))
		v, err := m.Get(ctx, "mx:example.com")
		require.NoError(t, err)
		assert.Equal(t, "mx1.example.com", v)
		assert.Equal(t, 1, m.size())

		require.NoError(t, m.Delete(ctx, "mx:example.com"))
		_, err = m.Get(ctx, "mx:example.com")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, m.Delete(ctx, "missing"))
	})

	t.Run("ttl expiry", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Connect())

		require.NoError(t, m.Set(ctx, "short", "v", 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)
		_, err := m.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("close clears", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Connect())
		require.NoError(t, m.Set(ctx, "k", "v", 0))
		require.NoError(t, m.Close())
		assert.Equal(t, 0, m.size())
	})

	t.Run("concurrent access", func(t *testing.T) {
		m := NewMemory()
		require.NoError(t, m.Connect())

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := "k" + string(rune('a'+i))
				_ = m.Set(ctx, key, "v", 0)
				_, _ = m.Get(ctx, key)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 20, m.size())
	})
}

func TestRemoteStoresRequireConnect(t *testing.T) {
	ctx := context.Background()

	for _, store := range []Store{NewRedis(Config{}), NewMemcached(Config{})} {
		t.Run(store.Type(), func(t *testing.T) {
			_, err := store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotConnected)
			assert.ErrorIs(t, store.Set(ctx, "k", "v", 0), ErrNotConnected)
			assert.ErrorIs(t, store.Delete(ctx, "k"), ErrNotConnected)
			assert.NoError(t, store.Close())
		})
	}
}

func TestRemoteStoreDefaults(t *testing.T) {
	r := NewRedis(Config{})
	assert.Equal(t, "localhost", r.config.Host)
	assert.Equal(t, 6379, r.config.Port)

	m := NewMemcached(Config{})
	assert.Equal(t, "localhost", m.config.Host)
	assert.Equal(t, 11211, m.config.Port)
}
