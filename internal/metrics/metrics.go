// Package metrics holds the Prometheus instruments for SMTP sessions, MX
// resolution and delivery outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sender.
type Metrics struct {
	// Session metrics
	SessionsTotal    *prometheus.CounterVec // outcome
	SessionDuration  prometheus.Histogram
	ProtocolFailures *prometheus.CounterVec // stage
	TLSUpgrades      *prometheus.CounterVec // result
	AuthAttempts     *prometheus.CounterVec // result

	// MX metrics
	MXLookups   *prometheus.CounterVec // result
	MXCacheHits prometheus.Counter

	// Delivery metrics
	DeliveriesTotal *prometheus.CounterVec // mode, result
	RecipientsTotal *prometheus.CounterVec // result
}

// New creates all metrics and registers them on reg. A nil reg creates a
// private registry, which keeps repeated construction in tests safe.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_sessions_total",
			Help: "Total number of SMTP sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sockmailer_session_duration_seconds",
			Help:    "Duration of SMTP sessions from greeting to QUIT",
			Buckets: prometheus.DefBuckets,
		}),
		ProtocolFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_protocol_failures_total",
			Help: "Unexpected or missing server replies by protocol stage",
		}, []string{"stage"}),
		TLSUpgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_tls_upgrades_total",
			Help: "STARTTLS upgrade attempts by result",
		}, []string{"result"}),
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_auth_attempts_total",
			Help: "AUTH LOGIN attempts by result",
		}, []string{"result"}),

		MXLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_mx_lookups_total",
			Help: "MX resolutions performed (cache misses) by result",
		}, []string{"result"}),
		MXCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "sockmailer_mx_cache_hits_total",
			Help: "MX resolutions answered from the cache",
		}),

		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_deliveries_total",
			Help: "Send calls by delivery mode and result",
		}, []string{"mode", "result"}),
		RecipientsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sockmailer_recipients_total",
			Help: "Recipients processed by result",
		}, []string{"result"}),
	}
}

// Result maps a success flag to a label value.
func Result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
