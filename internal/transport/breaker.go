package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the per-host circuit breakers.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive dial failures that opens a breaker.
	MaxFailures uint32
	// OpenTimeout is how long a breaker stays open before allowing a probe.
	OpenTimeout time.Duration
}

// BreakerDialer wraps a Dialer with one circuit breaker per host:port, so a
// host that keeps refusing connections fails fast for later sessions.
type BreakerDialer struct {
	next     Dialer
	settings BreakerSettings
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerDialer wraps next.
func NewBreakerDialer(next Dialer, settings BreakerSettings) *BreakerDialer {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	return &BreakerDialer{
		next:     next,
		settings: settings,
		logger:   slog.Default().With("component", "dial-breaker"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Dial opens a connection through the host's breaker. An open breaker is
// reported as a DialError without touching the network.
func (b *BreakerDialer) Dial(ctx context.Context, host, port string, implicitTLS bool) (Conn, error) {
	cb := b.breaker(net.JoinHostPort(host, port))

	res, err := cb.Execute(func() (interface{}, error) {
		return b.next.Dial(ctx, host, port, implicitTLS)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &DialError{Host: host, Port: port, Err: err}
		}
		return nil, err
	}
	return res.(Conn), nil
}

// State returns the breaker state for host:port.
func (b *BreakerDialer) State(host, port string) gobreaker.State {
	return b.breaker(net.JoinHostPort(host, port)).State()
}

func (b *BreakerDialer) breaker(key string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[key]; ok {
		return cb
	}

	maxFailures := b.settings.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed",
				"host", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	b.breakers[key] = cb
	return cb
}
