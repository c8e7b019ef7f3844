package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionsTotal.WithLabelValues("success").Inc()
	m.DeliveriesTotal.WithLabelValues("relay", "success").Inc()
	m.MXCacheHits.Add(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.MXCacheHits))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "sockmailer_sessions_total")
	assert.Contains(t, names, "sockmailer_deliveries_total")
}

func TestNew_NilRegistryIsIsolated(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}

func TestResult(t *testing.T) {
	assert.Equal(t, "success", Result(true))
	assert.Equal(t, "failure", Result(false))
}
