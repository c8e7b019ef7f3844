package mx

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(lookup func(ctx context.Context, name string) ([]*net.MX, error)) *DNSResolver {
	r := NewDNSResolver(time.Second, 3)
	r.RetryDelay = time.Millisecond
	r.lookup = lookup
	r.logger = slog.Default()
	return r
}

func TestDNSResolver_PicksLowestPreference(t *testing.T) {
	r := testResolver(func(_ context.Context, name string) ([]*net.MX, error) {
		assert.Equal(t, "example.com", name)
		return []*net.MX{
			{Host: "mx2.example.com.", Pref: 20},
			{Host: "mx1.example.com.", Pref: 10},
		}, nil
	})

	host, err := r.LookupMX(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "mx1.example.com", host)
}

func TestDNSResolver_FallsBackToDomain(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		r := testResolver(func(context.Context, string) ([]*net.MX, error) {
			return nil, &net.DNSError{Err: "no such host", Name: "example.org", IsNotFound: true}
		})
		host, err := r.LookupMX(context.Background(), "example.org")
		require.NoError(t, err)
		assert.Equal(t, "example.org", host)
	})

	t.Run("empty answer", func(t *testing.T) {
		r := testResolver(func(context.Context, string) ([]*net.MX, error) {
			return nil, nil
		})
		host, err := r.LookupMX(context.Background(), "example.net")
		require.NoError(t, err)
		assert.Equal(t, "example.net", host)
	})
}

func TestDNSResolver_NullMX(t *testing.T) {
	r := testResolver(func(context.Context, string) ([]*net.MX, error) {
		return []*net.MX{{Host: ".", Pref: 0}}, nil
	})
	_, err := r.LookupMX(context.Background(), "nomail.example")
	assert.ErrorIs(t, err, ErrNullMX)
}

func TestDNSResolver_RetriesTemporaryFailures(t *testing.T) {
	calls := 0
	r := testResolver(func(context.Context, string) ([]*net.MX, error) {
		calls++
		if calls < 3 {
			return nil, &net.DNSError{Err: "server misbehaving", IsTemporary: true}
		}
		return []*net.MX{{Host: "mx.example.com.", Pref: 10}}, nil
	})

	host, err := r.LookupMX(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "mx.example.com", host)
	assert.Equal(t, 3, calls)
}

func TestDNSResolver_GivesUpAfterRetries(t *testing.T) {
	calls := 0
	r := testResolver(func(context.Context, string) ([]*net.MX, error) {
		calls++
		return nil, errors.New("timeout")
	})

	_, err := r.LookupMX(context.Background(), "example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MX lookup failed for example.com")
	assert.Equal(t, 3, calls)
}

func TestDomainOf(t *testing.T) {
	d, err := DomainOf("User@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "example.com", d)

	_, err = DomainOf("no-at-sign")
	assert.Error(t, err)
	_, err = DomainOf("trailing@")
	assert.Error(t, err)
}
