// Package smtptest provides an in-memory SMTP server side for exercising the
// session engine and the delivery orchestrator without sockets.
package smtptest

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/busybox42/sockmailer/internal/transport"
)

// Reply keys beyond the command verbs.
const (
	Greeting = "GREETING"
	AuthUser = "AUTH_USER"
	AuthPass = "AUTH_PASS"
	EndData  = "."
)

// DefaultReplies answers every stage with success.
var DefaultReplies = map[string]string{
	Greeting:   "220 mx.example.test ESMTP ready",
	"EHLO":     "250-mx.example.test\n250-STARTTLS\n250 AUTH LOGIN",
	"STARTTLS": "220 2.0.0 ready to start TLS",
	"AUTH":     "334 VXNlcm5hbWU6",
	AuthUser:   "334 UGFzc3dvcmQ6",
	AuthPass:   "235 2.7.0 authentication successful",
	"MAIL":     "250 2.1.0 ok",
	"RCPT":     "250 2.1.5 ok",
	"DATA":     "354 end data with <CR><LF>.<CR><LF>",
	EndData:    "250 2.0.0 queued",
	"QUIT":     "221 2.0.0 bye",
}

// Conn is a scripted server. Replies are looked up by command verb, with
// "RCPT:<address>" taking precedence over "RCPT". A reply value may hold
// several lines separated by '\n'. An empty value sends nothing, so the
// next read sees EOF.
type Conn struct {
	Host string

	mu       sync.Mutex
	replies  map[string]string
	pending  []string
	partial  string
	commands []string
	data     strings.Builder
	inData   bool
	authStep int
	tls      bool
	tlsErr   error
	closed   bool
}

// NewConn returns a connection with the greeting queued. overrides replace
// entries of DefaultReplies.
func NewConn(overrides map[string]string) *Conn {
	c := &Conn{replies: make(map[string]string, len(DefaultReplies))}
	for k, v := range DefaultReplies {
		c.replies[k] = v
	}
	for k, v := range overrides {
		c.replies[k] = v
	}
	c.queue(Greeting)
	return c
}

// FailTLS makes StartTLS return err.
func (c *Conn) FailTLS(err error) {
	c.mu.Lock()
	c.tlsErr = err
	c.mu.Unlock()
}

func (c *Conn) ReadLine() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", net.ErrClosed
	}
	if len(c.pending) == 0 {
		return "", io.EOF
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

func (c *Conn) WriteString(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	c.partial += s
	for {
		i := strings.Index(c.partial, "\r\n")
		if i < 0 {
			return nil
		}
		line := c.partial[:i]
		c.partial = c.partial[i+2:]
		c.handle(line)
	}
}

func (c *Conn) handle(line string) {
	if c.inData {
		if line == "." {
			c.inData = false
			c.queue(EndData)
			return
		}
		c.data.WriteString(line)
		c.data.WriteString("\r\n")
		return
	}

	switch c.authStep {
	case 1:
		c.authStep = 2
		c.commands = append(c.commands, AuthUser)
		c.queue(AuthUser)
		return
	case 2:
		c.authStep = 0
		c.commands = append(c.commands, AuthPass)
		c.queue(AuthPass)
		return
	}

	c.commands = append(c.commands, line)
	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	if verb == "MAIL" || verb == "RCPT" {
		verb, arg, _ = strings.Cut(line, ":")
		verb = strings.ToUpper(strings.Fields(verb)[0])
	}

	switch verb {
	case "AUTH":
		if strings.HasPrefix(c.replies["AUTH"], "334") {
			c.authStep = 1
		}
	case "DATA":
		if strings.HasPrefix(c.replies["DATA"], "354") {
			c.inData = true
		}
	case "RCPT":
		addr := strings.Trim(arg, "<> ")
		if _, ok := c.replies["RCPT:"+addr]; ok {
			c.queue("RCPT:" + addr)
			return
		}
	}
	c.queue(verb)
}

func (c *Conn) queue(key string) {
	reply, ok := c.replies[key]
	if !ok {
		reply = "500 5.5.1 command unrecognized"
	}
	if reply == "" {
		return
	}
	c.pending = append(c.pending, strings.Split(reply, "\n")...)
}

func (c *Conn) StartTLS(*tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tlsErr != nil {
		return c.tlsErr
	}
	c.tls = true
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Conn) RemoteAddr() string { return net.JoinHostPort(c.Host, "25") }

// Commands returns the command lines received outside DATA. Credential
// lines appear as AuthUser and AuthPass.
func (c *Conn) Commands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.commands...)
}

// Data returns the DATA payload received, dot-stuffing intact.
func (c *Conn) Data() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.String()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TLS reports whether the connection was upgraded.
func (c *Conn) TLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tls
}

// Dial records one call to Dialer.Dial.
type Dial struct {
	Host        string
	Port        string
	ImplicitTLS bool
}

// Dialer hands out scripted connections. Script, when set, picks the reply
// overrides per host; Errors fails dials to the listed hosts.
type Dialer struct {
	Script func(host string) map[string]string
	Errors map[string]error

	mu    sync.Mutex
	dials []Dial
	conns []*Conn
}

func (d *Dialer) Dial(ctx context.Context, host, port string, implicitTLS bool) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, &transport.DialError{Host: host, Port: port, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, Dial{Host: host, Port: port, ImplicitTLS: implicitTLS})
	if err, ok := d.Errors[host]; ok {
		if err == nil {
			err = errors.New("connection refused")
		}
		return nil, &transport.DialError{Host: host, Port: port, Err: err}
	}

	var overrides map[string]string
	if d.Script != nil {
		overrides = d.Script(host)
	}
	conn := NewConn(overrides)
	conn.Host = host
	d.conns = append(d.conns, conn)
	return conn, nil
}

// Dials returns the recorded dial calls.
func (d *Dialer) Dials() []Dial {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Dial(nil), d.dials...)
}

// Conns returns the connections handed out, in dial order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}
