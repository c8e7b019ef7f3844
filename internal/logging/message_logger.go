package logging

import (
	"context"
	"log/slog"
	"time"
)

// MessageLogger provides structured logging for outbound message lifecycle events
type MessageLogger struct {
	logger *slog.Logger
}

// NewMessageLogger creates a new message logger
func NewMessageLogger(logger *slog.Logger) *MessageLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageLogger{
		logger: logger.With("component", "message-lifecycle"),
	}
}

// MessageContext contains all context about a send for logging
type MessageContext struct {
	DeliveryID string
	Mode       string
	From       string
	To         []string
	Subject    string
	Recipient  string
	Host       string
	StartTime  time.Time
	EndTime    time.Time
	Delivered  int
	Failed     int
	ErrorKind  string
	Stage      string
	Error      string
}

// LogSendStart logs when a send begins, after validation
func (ml *MessageLogger) LogSendStart(ctx MessageContext) {
	ml.logger.Info("message_send_start",
		"event_type", "send_start",
		"delivery_id", ctx.DeliveryID,
		"mode", ctx.Mode,
		"from", ctx.From,
		"to", ctx.To,
		"recipient_count", len(ctx.To),
		"subject", ctx.Subject,
		"start_time", ctx.StartTime.Format(time.RFC3339),
	)
}

// LogRecipientDelivered logs a recipient accepted by the receiving server
func (ml *MessageLogger) LogRecipientDelivered(ctx MessageContext) {
	ml.logger.Info("message_delivery",
		"event_type", "delivery",
		"delivery_id", ctx.DeliveryID,
		"mode", ctx.Mode,
		"from", ctx.From,
		"recipient", ctx.Recipient,
		"delivery_host", ctx.Host,
		"duration_ms", ctx.EndTime.Sub(ctx.StartTime).Milliseconds(),
		"status", "delivered",
	)
}

// LogRecipientFailed logs a recipient whose session failed
func (ml *MessageLogger) LogRecipientFailed(ctx MessageContext) {
	fields := []any{
		"event_type", "failure",
		"delivery_id", ctx.DeliveryID,
		"mode", ctx.Mode,
		"from", ctx.From,
		"recipient", ctx.Recipient,
		"error_kind", ctx.ErrorKind,
		"error", ctx.Error,
		"duration_ms", ctx.EndTime.Sub(ctx.StartTime).Milliseconds(),
		"status", "failed",
	}
	if ctx.Host != "" {
		fields = append(fields, "delivery_host", ctx.Host)
	}
	if ctx.Stage != "" {
		fields = append(fields, "stage", ctx.Stage)
	}

	ml.logger.Warn("message_failure", fields...)
}

// LogSendComplete logs the aggregate outcome of a send
func (ml *MessageLogger) LogSendComplete(ctx MessageContext) {
	level := slog.LevelInfo
	status := "delivered"
	if ctx.Failed > 0 {
		level = slog.LevelWarn
		status = "failed"
	}

	ml.logger.Log(context.Background(), level, "message_send_complete",
		"event_type", "send_complete",
		"delivery_id", ctx.DeliveryID,
		"mode", ctx.Mode,
		"recipient_count", len(ctx.To),
		"delivered", ctx.Delivered,
		"failed", ctx.Failed,
		"duration_ms", ctx.EndTime.Sub(ctx.StartTime).Milliseconds(),
		"status", status,
	)
}
