package delivery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/sockmailer/internal/mx"
	"github.com/busybox42/sockmailer/internal/smtp"
)

func TestRouter_PlanRelay(t *testing.T) {
	r := NewRouter(relayConfig(), nil, nil)
	assert.Equal(t, ModeRelay, r.Mode())

	routes := r.Plan([]string{"b@y.com", "c@z.com"})
	require.Len(t, routes, 1)
	assert.Equal(t, &Route{
		Mode:       ModeRelay,
		Host:       "relay.example.com",
		Port:       "587",
		Recipients: []string{"b@y.com", "c@z.com"},
	}, routes[0])

	// relay routes are never resolved
	require.NoError(t, r.Resolve(context.Background(), routes[0]))
	assert.Equal(t, "relay.example.com", routes[0].Host)
}

func TestRouter_PlanDirect(t *testing.T) {
	resolver := &countingResolver{}
	r := NewRouter(directConfig(), mx.NewCache(resolver, nil), nil)
	assert.Equal(t, ModeDirect, r.Mode())

	routes := r.Plan([]string{"b@Y.com", "c@y.com", "nodomain"})
	require.Len(t, routes, 3)
	assert.Equal(t, "y.com", routes[0].Domain)
	assert.Equal(t, "y.com", routes[1].Domain)
	assert.Equal(t, "", routes[2].Domain)

	ctx := context.Background()
	require.NoError(t, r.Resolve(ctx, routes[0]))
	require.NoError(t, r.Resolve(ctx, routes[1]))
	assert.Equal(t, "mx.y.com", routes[0].Host)
	assert.Equal(t, "25", routes[0].Port)
	assert.Equal(t, int64(1), resolver.calls.Load())

	err := r.Resolve(ctx, routes[2])
	require.Error(t, err)
	assert.True(t, smtp.IsKind(err, smtp.KindResolution))

	stats := r.Stats()
	assert.Equal(t, int64(3), stats["direct_routes"])
	assert.Equal(t, int64(1), stats["routing_errors"])
	assert.Equal(t, int64(1), stats["mx_lookups"])
	assert.Equal(t, int64(1), stats["mx_cache_hits"])
}

func TestGroupRecipientsByDomain(t *testing.T) {
	groups := groupRecipientsByDomain([]string{"a@X.com", "b@x.com", "c@y.com", "bad"})
	assert.Equal(t, map[string][]string{
		"x.com": {"a@X.com", "b@x.com"},
		"y.com": {"c@y.com"},
	}, groups)
}
