package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/busybox42/sockmailer/internal/cache"
	"github.com/busybox42/sockmailer/internal/config"
	"github.com/busybox42/sockmailer/internal/delivery"
	"github.com/busybox42/sockmailer/internal/logging"
	"github.com/busybox42/sockmailer/internal/message"
	"github.com/busybox42/sockmailer/internal/metrics"
	"github.com/busybox42/sockmailer/internal/mx"
)

// ErrDeliveryFailed is returned when at least one recipient was not delivered.
var ErrDeliveryFailed = errors.New("delivery failed")

type sendOptions struct {
	from     string
	to       []string
	cc       []string
	bcc      []string
	subject  string
	body     string
	bodyFile string
	headers  []string
	charset  string
	debug    int

	host       string
	port       string
	username   string
	password   string
	encryption string
	mtaMode    bool

	metricsFile string
}

func newSendCommand(configPath *string) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message",
		Long: `Send one message through the configured relay, or with --mta-mode directly
to each recipient's mail exchanger. Exits non-zero if any recipient failed.`,
		Example: `  sockmailer send --from a@x.com --to b@y.com --subject Hi --body Hello
  sockmailer send -dd --encryption tls --host smtp.example.com --port 587 \
    --from a@x.com --to b@y.com --body-file message.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, *configPath, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.from, "from", "", "Sender address, optionally \"Name <addr>\"")
	f.StringArrayVar(&opts.to, "to", nil, "Recipient address (repeatable)")
	f.StringArrayVar(&opts.cc, "cc", nil, "Cc address (repeatable)")
	f.StringArrayVar(&opts.bcc, "bcc", nil, "Bcc address (repeatable, never shown in headers)")
	f.StringVar(&opts.subject, "subject", "", "Subject line")
	f.StringVar(&opts.body, "body", "", "Message body (text or HTML)")
	f.StringVar(&opts.bodyFile, "body-file", "", "Read the body from a file, - for stdin")
	f.StringArrayVar(&opts.headers, "header", nil, "Extra header \"Name: value\" (repeatable)")
	f.StringVar(&opts.charset, "charset", message.DefaultCharset, "Body and subject charset")
	f.CountVarP(&opts.debug, "debug", "d", "Debug level: -d returns errors, -dd streams the SMTP transcript")

	f.StringVar(&opts.host, "host", "", "Server host (overrides config)")
	f.StringVar(&opts.port, "port", "", "Server port (overrides config)")
	f.StringVar(&opts.username, "username", "", "AUTH LOGIN username (overrides config)")
	f.StringVar(&opts.password, "password", "", "AUTH LOGIN password (overrides config)")
	f.StringVar(&opts.encryption, "encryption", "", "Encryption: ssl, tls or none (overrides config)")
	f.BoolVar(&opts.mtaMode, "mta-mode", false, "Deliver directly to each recipient's MX host")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after sending")

	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runSend(cmd *cobra.Command, configPath string, opts *sendOptions) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyOverrides(cmd, cfg, opts)

	logger, closer, err := logging.Setup(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	mail, err := buildMail(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	managerOpts := []delivery.Option{
		delivery.WithMetrics(m),
		delivery.WithLogger(logger),
		delivery.WithStream(cmd.OutOrStdout()),
	}
	if cfg.Breaker.Enabled {
		managerOpts = append(managerOpts, delivery.WithBreaker(cfg.BreakerSettings()))
	}
	if cfg.Delivery.MTAModeOn {
		store := openStore(cfg, logger)
		defer store.Close()

		resolver := mx.NewDNSResolver(cfg.DNS.Timeout.Std(), cfg.DNS.Retries)
		managerOpts = append(managerOpts, delivery.WithMXCache(mx.NewCache(resolver, store,
			mx.WithTTL(cfg.Cache.TTL.Std()),
			mx.WithMetrics(m),
			mx.WithLogger(logger))))
	}

	manager, err := delivery.NewManager(cfg.DeliveryConfig(), managerOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, sendErr := manager.Send(ctx, mail)

	if path := metricsPath(cfg, opts); path != "" {
		if err := prometheus.WriteToTextfile(path, registry); err != nil {
			logger.Error("Failed to write metrics file", "path", path, "error", err)
		}
	}

	if result == nil {
		return sendErr
	}
	printResult(cmd.OutOrStdout(), result)
	if sendErr != nil {
		return sendErr
	}
	if !result.Success {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, result.FirstError())
	}
	return nil
}

// applyOverrides copies flags the user set onto cfg.
func applyOverrides(cmd *cobra.Command, cfg *config.Config, opts *sendOptions) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Transport.Host = opts.host
	}
	if f.Changed("port") {
		cfg.Transport.Port = opts.port
	}
	if f.Changed("username") {
		cfg.Transport.Username = opts.username
	}
	if f.Changed("password") {
		cfg.Transport.Password = opts.password
	}
	if f.Changed("encryption") {
		enc := opts.encryption
		if strings.EqualFold(enc, "none") {
			enc = ""
		}
		cfg.Transport.Encryption = enc
	}
	if f.Changed("mta-mode") {
		cfg.Delivery.MTAModeOn = opts.mtaMode
	}
	if f.Changed("debug") {
		cfg.Delivery.Debug = min(opts.debug, int(delivery.DebugVerbose))
	}
	cfg.Normalize()
}

func openStore(cfg *config.Config, logger *slog.Logger) cache.Store {
	store, err := cache.Factory(cfg.CacheConfig())
	if err == nil {
		err = store.Connect()
	}
	if err != nil {
		logger.Warn("MX cache store unavailable, using memory",
			"type", cfg.Cache.Type,
			"error", err)
		store = cache.NewMemory()
		_ = store.Connect()
	}
	return store
}

func buildMail(stdin io.Reader, opts *sendOptions) (*message.Mail, error) {
	from, err := message.ParseAddress(opts.from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	to, err := message.ParseAddressList(opts.to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	cc, err := message.ParseAddressList(opts.cc)
	if err != nil {
		return nil, fmt.Errorf("--cc: %w", err)
	}
	bcc, err := message.ParseAddressList(opts.bcc)
	if err != nil {
		return nil, fmt.Errorf("--bcc: %w", err)
	}

	body := opts.body
	switch opts.bodyFile {
	case "":
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read body from stdin: %w", err)
		}
		body = string(data)
	default:
		data, err := os.ReadFile(opts.bodyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}

	mail := &message.Mail{
		From:    from,
		To:      to,
		Cc:      cc,
		Bcc:     bcc,
		Subject: opts.subject,
		Body:    body,
		Charset: opts.charset,
	}
	for _, h := range opts.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("--header %q: expected \"Name: value\"", h)
		}
		mail.AddHeader(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return mail, nil
}

func metricsPath(cfg *config.Config, opts *sendOptions) string {
	if opts.metricsFile != "" {
		return opts.metricsFile
	}
	if cfg.Metrics.Enabled {
		return cfg.Metrics.TextFile
	}
	return ""
}

func printResult(out io.Writer, result *delivery.Result) {
	if result.Transcript != "" {
		fmt.Fprintln(out, "--- transcript ---")
		fmt.Fprint(out, result.Transcript)
		fmt.Fprintln(out, "------------------")
	}

	status := "sent"
	if !result.Success {
		status = "FAILED"
	}
	fmt.Fprintf(out, "%s: %d of %d recipient(s) delivered (%s mode, id %s)\n",
		status, result.Delivered(), len(result.Recipients), result.Mode, result.DeliveryID)
	for _, rr := range result.Recipients {
		if rr.Success {
			continue
		}
		fmt.Fprintf(out, "  %s: %v\n", rr.Recipient, rr.Err)
	}
}
