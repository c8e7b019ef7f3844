package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDialer struct {
	calls int
	err   error
}

func (d *countingDialer) Dial(_ context.Context, host, port string, _ bool) (Conn, error) {
	d.calls++
	if d.err != nil {
		return nil, &DialError{Host: host, Port: port, Err: d.err}
	}
	return nopConn{}, nil
}

type nopConn struct{}

func (nopConn) ReadLine() (string, error)  { return "", nil }
func (nopConn) WriteString(string) error   { return nil }
func (nopConn) StartTLS(*tls.Config) error { return nil }
func (nopConn) Close() error               { return nil }
func (nopConn) RemoteAddr() string         { return "nop" }

func TestBreakerDialer_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &countingDialer{err: errors.New("connection refused")}
	b := NewBreakerDialer(next, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := b.Dial(context.Background(), "mx.example.com", "25", false)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State("mx.example.com", "25"))

	_, err := b.Dial(context.Background(), "mx.example.com", "25", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	var dialErr *DialError
	require.True(t, errors.As(err, &dialErr))
	assert.Equal(t, "mx.example.com", dialErr.Host)
	assert.Equal(t, 2, next.calls, "open breaker must not reach the network")
}

func TestBreakerDialer_HostsAreIndependent(t *testing.T) {
	next := &countingDialer{err: errors.New("refused")}
	b := NewBreakerDialer(next, BreakerSettings{MaxFailures: 1})

	_, _ = b.Dial(context.Background(), "bad.example.com", "25", false)
	assert.Equal(t, gobreaker.StateOpen, b.State("bad.example.com", "25"))
	assert.Equal(t, gobreaker.StateClosed, b.State("good.example.com", "25"))

	next.err = nil
	conn, err := b.Dial(context.Background(), "good.example.com", "25", false)
	require.NoError(t, err)
	assert.NotNil(t, conn)
}
