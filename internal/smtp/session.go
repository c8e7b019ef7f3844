// Package smtp drives a single client dialogue with a mail server: greeting,
// EHLO, optional STARTTLS and AUTH LOGIN, envelope, DATA and QUIT. Every
// reply is checked against the code its stage requires and the first
// mismatch aborts the dialogue.
package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/busybox42/sockmailer/internal/message"
	"github.com/busybox42/sockmailer/internal/metrics"
	"github.com/busybox42/sockmailer/internal/transcript"
	"github.com/busybox42/sockmailer/internal/transport"
)

// Params configures one session.
type Params struct {
	// HeloName is the EHLO argument.
	HeloName string

	Username string
	Password string

	Encryption Encryption
	// TLSConfig is used for the STARTTLS upgrade.
	TLSConfig *tls.Config

	// Host and Port identify the server in errors.
	Host string
	Port string
}

// HasAuth reports whether AUTH LOGIN will be attempted.
func (p Params) HasAuth() bool {
	return p.Username != "" && p.Password != ""
}

// Session owns one open connection until Deliver returns.
type Session struct {
	conn       transport.Conn
	params     Params
	composer   *message.Composer
	transcript *transcript.Transcript
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithTranscript records the dialogue in t.
func WithTranscript(t *transcript.Transcript) Option {
	return func(s *Session) { s.transcript = t }
}

// WithMetrics records session outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithComposer overrides the header composer.
func WithComposer(c *message.Composer) Option {
	return func(s *Session) { s.composer = c }
}

// NewSession wraps an open connection. The session closes conn when
// Deliver returns.
func NewSession(conn transport.Conn, params Params, opts ...Option) *Session {
	s := &Session{
		conn:   conn,
		params: params,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.composer == nil {
		s.composer = message.NewComposer(params.HeloName)
	}
	if s.transcript == nil {
		s.transcript = transcript.New()
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "smtp-session")
	}
	return s
}

// Transcript returns the session transcript.
func (s *Session) Transcript() *transcript.Transcript {
	return s.transcript
}

// Deliver runs the full dialogue for content to recipients. The headers get
// this session's Date and Message-ID. The connection is closed on every path,
// and cancelling ctx closes it immediately.
func (s *Session) Deliver(ctx context.Context, content *message.Content, recipients []string) (err error) {
	start := time.Now()
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })

	defer func() {
		stop()
		_ = s.conn.Close()
		s.observe(start, err)
	}()

	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindConnection, Stage: StageGreeting, Host: s.params.Host, Port: s.params.Port, Err: err}
	}
	if content == nil || content.Sender == "" {
		return NewValidationError(message.ErrNoSender)
	}
	if len(recipients) == 0 {
		return NewValidationError(message.ErrNoRecipients)
	}

	err = s.run(content.Sender, recipients, s.composer.Stamp(content), content.Body)
	if err != nil && ctx.Err() != nil {
		var serr *Error
		stage := StageConnect
		if errors.As(err, &serr) {
			stage = serr.Stage
		}
		return &Error{Kind: KindConnection, Stage: stage, Host: s.params.Host, Port: s.params.Port, Err: ctx.Err()}
	}
	return err
}

func (s *Session) run(sender string, recipients []string, headers message.Headers, body []byte) error {
	if _, err := s.expect(StageGreeting, "220"); err != nil {
		return err
	}
	if err := s.command(StageEHLO, "EHLO "+s.params.HeloName, "250"); err != nil {
		return err
	}

	if s.params.Encryption.StartTLS() {
		if err := s.startTLS(); err != nil {
			return err
		}
	}

	if s.params.HasAuth() {
		if err := s.auth(); err != nil {
			return err
		}
	}

	if err := s.command(StageMailFrom, "MAIL FROM:<"+sender+">", "250"); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := s.command(StageRcptTo, "RCPT TO:<"+rcpt+">", "250"); err != nil {
			return err
		}
	}
	if err := s.command(StageData, "DATA", "354"); err != nil {
		return err
	}

	payload := dataPayload(headers.String(), body)
	s.transcript.Sent(string(payload))
	if err := s.conn.WriteString(string(payload)); err != nil {
		return s.connError(StageMessage, err)
	}
	if err := s.command(StageMessage, ".", "250"); err != nil {
		return err
	}

	// The QUIT reply is not checked.
	s.transcript.Sent("QUIT")
	if err := s.conn.WriteString("QUIT\r\n"); err != nil {
		s.logger.Debug("QUIT write failed", "host", s.params.Host, "error", err)
	}
	return nil
}

func (s *Session) startTLS() error {
	if err := s.command(StageStartTLS, "STARTTLS", "220"); err != nil {
		return err
	}
	if err := s.conn.StartTLS(s.params.TLSConfig); err != nil {
		s.count(func(m *metrics.Metrics) { m.TLSUpgrades.WithLabelValues(metrics.Result(false)).Inc() })
		return &Error{Kind: KindTLSUpgrade, Stage: StageStartTLS, Host: s.params.Host, Port: s.params.Port, Err: err}
	}
	s.count(func(m *metrics.Metrics) { m.TLSUpgrades.WithLabelValues(metrics.Result(true)).Inc() })
	return s.command(StageEHLO, "EHLO "+s.params.HeloName, "250")
}

func (s *Session) auth() (err error) {
	defer func() {
		s.count(func(m *metrics.Metrics) { m.AuthAttempts.WithLabelValues(metrics.Result(err == nil)).Inc() })
	}()

	if err := s.command(StageAuth, "AUTH LOGIN", "334"); err != nil {
		return err
	}
	if err := s.secret(base64.StdEncoding.EncodeToString([]byte(s.params.Username)), "334"); err != nil {
		return err
	}
	return s.secret(base64.StdEncoding.EncodeToString([]byte(s.params.Password)), "235")
}

// command sends line and checks the reply against code.
func (s *Session) command(stage Stage, line, code string) error {
	s.transcript.Sent(line)
	if err := s.conn.WriteString(line + "\r\n"); err != nil {
		return s.connError(stage, err)
	}
	_, err := s.expect(stage, code)
	return err
}

// secret is command for credentials: the transcript never sees line.
func (s *Session) secret(line, code string) error {
	s.transcript.SentRedacted()
	if err := s.conn.WriteString(line + "\r\n"); err != nil {
		return s.connError(StageAuth, err)
	}
	_, err := s.expect(StageAuth, code)
	return err
}

func (s *Session) expect(stage Stage, code string) (Reply, error) {
	reply, err := ReadReply(s.conn, s.transcript)
	if err != nil {
		if errors.Is(err, ErrMalformedReply) {
			s.protocolFailure(stage)
			return reply, &Error{Kind: KindProtocol, Stage: stage, Expected: code, Reply: reply.Last(),
				Host: s.params.Host, Port: s.params.Port, Err: err}
		}
		return reply, s.connError(stage, err)
	}
	if reply.Code != code {
		s.protocolFailure(stage)
		return reply, &Error{Kind: KindProtocol, Stage: stage, Expected: code, Reply: reply.Last(),
			Host: s.params.Host, Port: s.params.Port}
	}
	return reply, nil
}

func (s *Session) connError(stage Stage, err error) *Error {
	e := &Error{Kind: KindConnection, Stage: stage, Host: s.params.Host, Port: s.params.Port, Err: err}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		e.Timeout = true
	}
	return e
}

func (s *Session) protocolFailure(stage Stage) {
	s.count(func(m *metrics.Metrics) { m.ProtocolFailures.WithLabelValues(string(stage)).Inc() })
}

func (s *Session) observe(start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		s.logger.Debug("session failed", "host", s.params.Host, "session_id", s.transcript.ID(), "error", err)
	}
	s.count(func(m *metrics.Metrics) {
		m.SessionsTotal.WithLabelValues(outcome).Inc()
		m.SessionDuration.Observe(time.Since(start).Seconds())
	})
}

func (s *Session) count(fn func(*metrics.Metrics)) {
	if s.metrics != nil {
		fn(s.metrics)
	}
}
