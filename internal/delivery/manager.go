// Package delivery sends a message either through one relay server or
// directly to each recipient's mail exchanger, and aggregates the outcome.
package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/busybox42/sockmailer/internal/logging"
	"github.com/busybox42/sockmailer/internal/message"
	"github.com/busybox42/sockmailer/internal/metrics"
	"github.com/busybox42/sockmailer/internal/mx"
	"github.com/busybox42/sockmailer/internal/smtp"
	"github.com/busybox42/sockmailer/internal/transcript"
	"github.com/busybox42/sockmailer/internal/transport"
)

// Config holds the transport settings for one Manager. It is not modified
// after NewManager.
type Config struct {
	Host       string
	Port       string
	Username   string
	Password   string
	Encryption smtp.Encryption

	// HeloName is the EHLO argument; defaults to Host.
	HeloName string

	// MTAModeOn selects direct-to-MX delivery.
	MTAModeOn bool

	Debug DebugLevel

	// Concurrency bounds parallel sessions in direct mode. 1 is sequential.
	Concurrency int

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// SendTimeout bounds a whole Send call; zero means no limit.
	SendTimeout time.Duration

	TLSInsecureSkipVerify bool
	TLSMinVersion         string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           "25",
		Encryption:     smtp.EncryptionNone,
		Concurrency:    1,
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		TLSMinVersion:  "1.2",
	}
}

// Manager runs sends. It is safe for concurrent use; only the MX cache is
// shared between sends.
type Manager struct {
	config    *Config
	logger    *slog.Logger
	msgLogger *logging.MessageLogger
	metrics   *metrics.Metrics
	dialer    transport.Dialer
	breaker   *transport.BreakerSettings
	mxCache   *mx.Cache
	router    *Router
	tracker   *Tracker
	composer  *message.Composer
	tlsConfig *tls.Config
	stream    io.Writer
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the network dialer.
func WithDialer(d transport.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithBreaker wraps the dialer in a per-host circuit breaker.
func WithBreaker(settings transport.BreakerSettings) Option {
	return func(m *Manager) { m.breaker = &settings }
}

// WithMXCache sets the MX cache used in direct mode.
func WithMXCache(c *mx.Cache) Option {
	return func(m *Manager) { m.mxCache = c }
}

// WithMetrics records sends in mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithStream sets where verbose transcripts are streamed. Defaults to stdout.
func WithStream(w io.Writer) Option {
	return func(m *Manager) { m.stream = w }
}

// WithComposer overrides the header composer.
func WithComposer(c *message.Composer) Option {
	return func(m *Manager) { m.composer = c }
}

// NewManager creates a delivery manager.
func NewManager(config *Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "25"
	}
	if cfg.HeloName == "" {
		cfg.HeloName = cfg.Host
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	cfg.Encryption = smtp.ParseEncryption(string(cfg.Encryption))

	tlsConfig, err := transport.NewTLSConfig(cfg.TLSInsecureSkipVerify, cfg.TLSMinVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}

	m := &Manager{
		config:    &cfg,
		tlsConfig: tlsConfig,
		tracker:   NewTracker(),
		stream:    os.Stdout,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.msgLogger = logging.NewMessageLogger(m.logger)
	m.logger = m.logger.With("component", "delivery-manager")
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	if m.dialer == nil {
		m.dialer = transport.NewNetDialer(cfg.ConnectTimeout, cfg.ReadTimeout, tlsConfig)
	}
	if m.breaker != nil {
		m.dialer = transport.NewBreakerDialer(m.dialer, *m.breaker)
	}
	if m.mxCache == nil && cfg.MTAModeOn {
		m.mxCache = mx.NewCache(mx.NewDNSResolver(cfg.ConnectTimeout, 2), nil,
			mx.WithMetrics(m.metrics), mx.WithLogger(m.logger))
	}
	if m.composer == nil {
		m.composer = message.NewComposer(cfg.Host)
	}
	m.router = NewRouter(m.config, m.mxCache, m.logger)

	return m, nil
}

// Config returns a copy of the effective configuration.
func (m *Manager) Config() Config {
	return *m.config
}

// Send delivers mail. Validation failures are returned before any
// connection is opened. In relay mode a session failure is returned as an
// error only when debugging is on; otherwise Result.Success reports it.
// In direct mode per-recipient failures never produce an error.
func (m *Manager) Send(ctx context.Context, mail *message.Mail) (*Result, error) {
	if mail == nil {
		return nil, smtp.NewValidationError(errors.New("message is nil"))
	}
	if err := mail.Validate(); err != nil {
		return nil, smtp.NewValidationError(err)
	}
	content, err := m.composer.Prepare(mail)
	if err != nil {
		return nil, smtp.NewValidationError(err)
	}
	recipients := envelopeRecipients(mail)

	if m.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.SendTimeout)
		defer cancel()
	}

	result := &Result{
		DeliveryID: uuid.NewString(),
		Mode:       m.router.Mode(),
		StartTime:  time.Now(),
	}
	m.tracker.Start(result.DeliveryID, result.StartTime)

	m.msgLogger.LogSendStart(logging.MessageContext{
		DeliveryID: result.DeliveryID,
		Mode:       string(result.Mode),
		From:       mail.From.Email,
		To:         recipients,
		Subject:    mail.Subject,
		StartTime:  result.StartTime,
	})

	var stream io.Writer
	if m.config.Debug >= DebugVerbose && m.stream != nil {
		stream = transcript.NewSyncWriter(m.stream)
	}

	routes := m.router.Plan(recipients)
	outcomes := make([]sessionOutcome, len(routes))

	var g errgroup.Group
	g.SetLimit(m.config.Concurrency)
	for i, route := range routes {
		i, route := i, route
		g.Go(func() error {
			outcomes[i] = m.runRoute(ctx, content, route, stream)
			return nil
		})
	}
	_ = g.Wait()

	var transcripts []string
	for i, route := range routes {
		out := outcomes[i]
		for _, rcpt := range route.Recipients {
			rr := RecipientResult{
				Recipient: rcpt,
				Host:      route.Host,
				Success:   out.err == nil,
				Err:       out.err,
				Duration:  out.duration,
			}
			var serr *smtp.Error
			if errors.As(out.err, &serr) {
				rr.Kind = serr.Kind
				rr.Stage = serr.Stage
			}
			result.Recipients = append(result.Recipients, rr)
			m.logRecipient(result, mail, rr, out.start)
		}
		if out.transcript != nil {
			transcripts = append(transcripts, out.transcript.String())
		}
	}

	for _, rr := range result.Recipients {
		if !rr.Success {
			result.Failed++
		}
		m.metrics.RecipientsTotal.WithLabelValues(metrics.Result(rr.Success)).Inc()
	}
	result.Success = result.Failed == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if m.config.Debug >= DebugVerbose {
		result.Transcript = strings.Join(transcripts, "")
	}

	m.metrics.DeliveriesTotal.WithLabelValues(string(result.Mode), metrics.Result(result.Success)).Inc()
	m.tracker.Finish(result.DeliveryID, result)
	m.msgLogger.LogSendComplete(logging.MessageContext{
		DeliveryID: result.DeliveryID,
		Mode:       string(result.Mode),
		To:         recipients,
		StartTime:  result.StartTime,
		EndTime:    result.EndTime,
		Delivered:  result.Delivered(),
		Failed:     result.Failed,
	})

	if result.Mode == ModeRelay && !result.Success && m.config.Debug >= DebugOn {
		return result, outcomes[0].err
	}
	return result, nil
}

// Stats returns send totals and routing counters.
func (m *Manager) Stats() (TrackerStats, map[string]interface{}) {
	return m.tracker.Stats(), m.router.Stats()
}

type sessionOutcome struct {
	start      time.Time
	duration   time.Duration
	err        error
	transcript *transcript.Transcript
}

// runRoute resolves, dials and runs one session. Every failure is
// returned in the outcome.
func (m *Manager) runRoute(ctx context.Context, content *message.Content, route *Route, stream io.Writer) (out sessionOutcome) {
	out.start = time.Now()
	defer func() { out.duration = time.Since(out.start) }()

	opts := []transcript.Option{transcript.WithLogger(m.logger)}
	if stream != nil {
		opts = append(opts, transcript.WithStream(stream))
		if route.Mode == ModeDirect {
			opts = append(opts, transcript.WithLabel(route.Recipients[0]))
		}
	}
	out.transcript = transcript.New(opts...)

	if err := m.router.Resolve(ctx, route); err != nil {
		out.err = err
		return out
	}

	conn, err := m.dialer.Dial(ctx, route.Host, route.Port, m.config.Encryption.ImplicitTLS())
	if err != nil {
		serr := &smtp.Error{Kind: smtp.KindConnection, Stage: smtp.StageConnect, Host: route.Host, Port: route.Port, Err: err}
		var derr *transport.DialError
		if errors.As(err, &derr) {
			serr.Timeout = derr.Timeout()
		}
		out.err = serr
		return out
	}

	session := smtp.NewSession(conn, smtp.Params{
		HeloName:   m.config.HeloName,
		Username:   m.config.Username,
		Password:   m.config.Password,
		Encryption: m.config.Encryption,
		TLSConfig:  m.tlsConfig,
		Host:       route.Host,
		Port:       route.Port,
	},
		smtp.WithTranscript(out.transcript),
		smtp.WithMetrics(m.metrics),
		smtp.WithLogger(m.logger),
		smtp.WithComposer(m.composer),
	)
	out.err = session.Deliver(ctx, content, route.Recipients)
	return out
}

func (m *Manager) logRecipient(result *Result, mail *message.Mail, rr RecipientResult, start time.Time) {
	mc := logging.MessageContext{
		DeliveryID: result.DeliveryID,
		Mode:       string(result.Mode),
		From:       mail.From.Email,
		Recipient:  rr.Recipient,
		Host:       rr.Host,
		StartTime:  start,
		EndTime:    start.Add(rr.Duration),
	}
	if rr.Success {
		m.msgLogger.LogRecipientDelivered(mc)
		return
	}
	mc.ErrorKind = string(rr.Kind)
	mc.Stage = string(rr.Stage)
	mc.Error = rr.Err.Error()
	m.msgLogger.LogRecipientFailed(mc)
}

// envelopeRecipients returns the non-blank RCPT targets in To, Cc, Bcc order.
func envelopeRecipients(mail *message.Mail) []string {
	all := mail.Recipients()
	out := all[:0:0]
	for _, rcpt := range all {
		if rcpt = strings.TrimSpace(rcpt); rcpt != "" {
			out = append(out, rcpt)
		}
	}
	return out
}
