// Package logging configures the process-wide slog logger and provides the
// sanitizing helpers shared by the transcript and delivery loggers.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode"
)

// Config selects level, format and destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

// SanitizeMessage normalizes a log message to a single line and removes
// control characters that can be used for log injection.
func SanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")

	var b strings.Builder
	for _, r := range msg {
		if r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}

	return b.String()
}

var sensitiveFieldKeys = []string{
	"password",
	"pass",
	"token",
	"secret",
	"authorization",
	"auth_header",
}

// IsSensitiveKey reports whether values under key must never be logged.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sk := range sensitiveFieldKeys {
		if strings.Contains(keyLower, sk) {
			return true
		}
	}
	return false
}

// sanitizeAttr redacts sensitive attributes and flattens string values.
func sanitizeAttr(_ []string, a slog.Attr) slog.Attr {
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, "***REDACTED***")
	}
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, SanitizeMessage(a.Value.String()))
	}
	return a
}

// LevelToString converts slog.Level to string
func LevelToString(level slog.Level) string {
	switch level {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case slog.LevelWarn:
		return "WARN"
	case slog.LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// StringToLevel converts string to slog.Level
func StringToLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level")
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: sanitizeAttr,
	}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// Setup builds a logger from cfg. The returned closer releases the log file
// when Output names one.
func Setup(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := StringToLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logging level %q: %w", cfg.Level, err)
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}

	logger, err := NewLogger(w, level, cfg.Format)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}
