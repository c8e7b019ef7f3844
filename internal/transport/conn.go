// Package transport provides the byte-stream connections the SMTP session
// engine talks over: plain TCP, implicit TLS, and in-place STARTTLS upgrade.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// MaxLineLength bounds a single server reply line, CRLF included.
const MaxLineLength = 2048

var (
	// ErrLineTooLong is returned when the server sends a line longer than MaxLineLength.
	ErrLineTooLong = errors.New("reply line too long")
	// ErrBufferedBeforeTLS is returned when plaintext data is pending at the time of a TLS upgrade.
	ErrBufferedBeforeTLS = errors.New("unexpected data buffered before TLS handshake")
)

// Conn is one open connection to an SMTP server.
type Conn interface {
	// ReadLine reads one line with the trailing CRLF removed.
	ReadLine() (string, error)

	// WriteString writes s as-is; callers supply line terminators.
	WriteString(s string) error

	// StartTLS upgrades the connection to TLS in place.
	StartTLS(cfg *tls.Config) error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() string
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, host, port string, implicitTLS bool) (Conn, error)
}

// DialError reports a failure to establish a connection.
type DialError struct {
	Host string
	Port string
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("error connecting to %s: %v", net.JoinHostPort(e.Host, e.Port), e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// Timeout reports whether the dial failed because a deadline passed.
func (e *DialError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// NetDialer dials real TCP connections.
type NetDialer struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TLSConfig      *tls.Config
	Logger         *slog.Logger
}

// NewNetDialer creates a dialer with the given timeouts. A nil tlsConfig
// uses the defaults from NewTLSConfig.
func NewNetDialer(connectTimeout, readTimeout time.Duration, tlsConfig *tls.Config) *NetDialer {
	if tlsConfig == nil {
		tlsConfig, _ = NewTLSConfig(false, "")
	}
	return &NetDialer{
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
		TLSConfig:      tlsConfig,
		Logger:         slog.Default().With("component", "transport"),
	}
}

// Dial connects to host:port. With implicitTLS the TLS handshake happens
// before the first byte is read.
func (d *NetDialer) Dial(ctx context.Context, host, port string, implicitTLS bool) (Conn, error) {
	addr := net.JoinHostPort(host, port)
	nd := &net.Dialer{Timeout: d.ConnectTimeout}

	var (
		raw net.Conn
		err error
	)
	start := time.Now()
	if implicitTLS {
		td := &tls.Dialer{NetDialer: nd, Config: serverConfig(d.TLSConfig, host)}
		raw, err = td.DialContext(ctx, "tcp", addr)
	} else {
		raw, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &DialError{Host: host, Port: port, Err: err}
	}

	d.logger().Debug("connection established",
		"addr", addr,
		"implicit_tls", implicitTLS,
		"connect_time", time.Since(start))

	return newNetConn(raw, host, d.ReadTimeout), nil
}

func (d *NetDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type netConn struct {
	// raw is the dialed connection. It never changes, so Close may run on
	// another goroutine while StartTLS replaces conn.
	raw         net.Conn
	conn        net.Conn
	reader      *bufio.Reader
	host        string
	readTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newNetConn(conn net.Conn, host string, readTimeout time.Duration) *netConn {
	return &netConn{
		raw:         conn,
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, MaxLineLength),
		host:        host,
		readTimeout: readTimeout,
	}
}

// Wrap adapts an already established net.Conn.
func Wrap(conn net.Conn, host string, readTimeout time.Duration) Conn {
	return newNetConn(conn, host, readTimeout)
}

func (c *netConn) ReadLine() (string, error) {
	c.setDeadline()

	line, err := c.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", ErrLineTooLong
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

func (c *netConn) WriteString(s string) error {
	c.setDeadline()
	_, err := io.WriteString(c.conn, s)
	return err
}

func (c *netConn) StartTLS(cfg *tls.Config) error {
	if c.reader.Buffered() > 0 {
		return ErrBufferedBeforeTLS
	}

	tlsConn := tls.Client(c.conn, serverConfig(cfg, c.host))
	c.setDeadline()
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	c.conn = tlsConn
	c.reader = bufio.NewReaderSize(tlsConn, MaxLineLength)
	return nil
}

func (c *netConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

func (c *netConn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

func (c *netConn) setDeadline() {
	if c.readTimeout > 0 {
		_ = c.raw.SetDeadline(time.Now().Add(c.readTimeout))
	}
}

// serverConfig clones cfg and fills in ServerName for certificate verification.
func serverConfig(cfg *tls.Config, host string) *tls.Config {
	var out *tls.Config
	if cfg == nil {
		out = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		out = cfg.Clone()
	}
	if out.ServerName == "" {
		out.ServerName = host
	}
	return out
}
