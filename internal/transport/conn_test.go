package transport

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCertificate returns a self-signed certificate for 127.0.0.1 and a
// client config that trusts it.
func testCertificate(t *testing.T) (tls.Certificate, *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
		IsCA:         true,

		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(parsed)

	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return cert, &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
}

// listen starts a one-connection server running handler.
func listen(t *testing.T, handler func(net.Conn)) (string, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func TestNetDialer_PlainExchange(t *testing.T) {
	received := make(chan string, 1)
	host, port := listen(t, func(c net.Conn) {
		_, _ = c.Write([]byte("220 ready\r\n"))
		line, _ := bufio.NewReader(c).ReadString('\n')
		received <- line
		_, _ = c.Write([]byte("250 ok\r\n"))
	})

	d := NewNetDialer(time.Second, time.Second, nil)
	conn, err := d.Dial(context.Background(), host, port, false)
	require.NoError(t, err)
	defer conn.Close()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "220 ready", line)

	require.NoError(t, conn.WriteString("EHLO localhost\r\n"))
	assert.Equal(t, "EHLO localhost\r\n", <-received)

	line, err = conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "250 ok", line)
	assert.NotEmpty(t, conn.RemoteAddr())
}

func TestNetDialer_StartTLS(t *testing.T) {
	cert, clientCfg := testCertificate(t)

	host, port := listen(t, func(c net.Conn) {
		r := bufio.NewReader(c)
		_, _ = c.Write([]byte("220 ready\r\n"))
		if line, _ := r.ReadString('\n'); line != "STARTTLS\r\n" {
			return
		}
		_, _ = c.Write([]byte("220 go ahead\r\n"))

		srv := tls.Server(c, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err := srv.Handshake(); err != nil {
			return
		}
		sr := bufio.NewReader(srv)
		line, _ := sr.ReadString('\n')
		_, _ = srv.Write([]byte("250 secure " + strings.TrimSpace(line) + "\r\n"))
	})

	d := NewNetDialer(time.Second, 2*time.Second, clientCfg)
	conn, err := d.Dial(context.Background(), host, port, false)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadLine()
	require.NoError(t, err)
	require.NoError(t, conn.WriteString("STARTTLS\r\n"))
	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "220 go ahead", line)

	require.NoError(t, conn.StartTLS(clientCfg))
	require.NoError(t, conn.WriteString("EHLO again\r\n"))
	line, err = conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "250 secure EHLO again", line)
}

func TestNetConn_CloseDuringStartTLS(t *testing.T) {
	cert, clientCfg := testCertificate(t)

	serverDone := make(chan error, 1)
	host, port := listen(t, func(c net.Conn) {
		srv := tls.Server(c, &tls.Config{Certificates: []tls.Certificate{cert}})
		if err := srv.Handshake(); err != nil {
			serverDone <- err
			return
		}
		_, err := bufio.NewReader(srv).ReadString('\n')
		serverDone <- err
	})

	d := NewNetDialer(time.Second, 2*time.Second, clientCfg)
	conn, err := d.Dial(context.Background(), host, port, false)
	require.NoError(t, err)

	upgraded := make(chan error, 1)
	go func() { upgraded <- conn.StartTLS(clientCfg) }()
	require.NoError(t, conn.Close())
	<-upgraded

	_, err = conn.ReadLine()
	assert.Error(t, err)
	assert.Error(t, <-serverDone, "closing must tear down the upgraded connection")
	assert.NoError(t, conn.Close())
}

func TestNetDialer_ImplicitTLS(t *testing.T) {
	cert, clientCfg := testCertificate(t)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		_, _ = c.Write([]byte("220 tls ready\r\n"))
		_, _ = bufio.NewReader(c).ReadString('\n')
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	d := NewNetDialer(time.Second, 2*time.Second, clientCfg)
	conn, err := d.Dial(context.Background(), host, port, true)
	require.NoError(t, err)
	defer conn.Close()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "220 tls ready", line)
}

func TestNetDialer_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	d := NewNetDialer(time.Second, time.Second, nil)
	_, err = d.Dial(context.Background(), host, port, false)
	require.Error(t, err)

	var dialErr *DialError
	require.True(t, errors.As(err, &dialErr))
	assert.Equal(t, host, dialErr.Host)
	assert.Equal(t, port, dialErr.Port)
	assert.Contains(t, err.Error(), "error connecting to")
}

func TestNetConn_ReadLineErrors(t *testing.T) {
	t.Run("line too long", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		go func() {
			_, _ = server.Write([]byte(strings.Repeat("x", MaxLineLength+10)))
			server.Close()
		}()

		conn := Wrap(client, "pipe", time.Second)
		_, err := conn.ReadLine()
		assert.ErrorIs(t, err, ErrLineTooLong)
	})

	t.Run("partial line before close", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		go func() {
			_, _ = server.Write([]byte("250 trunc"))
			server.Close()
		}()

		conn := Wrap(client, "pipe", time.Second)
		_, err := conn.ReadLine()
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		conn := Wrap(client, "pipe", 50*time.Millisecond)
		_, err := conn.ReadLine()
		require.Error(t, err)
		var ne net.Error
		require.True(t, errors.As(err, &ne))
		assert.True(t, ne.Timeout())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		client, server := net.Pipe()
		defer server.Close()

		conn := Wrap(client, "pipe", time.Second)
		assert.NoError(t, conn.Close())
		assert.NoError(t, conn.Close())
	})
}

func TestNewTLSConfig(t *testing.T) {
	tests := []struct {
		version string
		want    uint16
	}{
		{"", tls.VersionTLS12},
		{"1.0", tls.VersionTLS10},
		{"1.1", tls.VersionTLS11},
		{"1.2", tls.VersionTLS12},
		{"1.3", tls.VersionTLS13},
	}
	for _, tt := range tests {
		cfg, err := NewTLSConfig(false, tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, cfg.MinVersion, "version %q", tt.version)
	}

	_, err := NewTLSConfig(false, "2.0")
	assert.Error(t, err)

	cfg, err := NewTLSConfig(true, "")
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}
