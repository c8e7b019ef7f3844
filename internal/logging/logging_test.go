package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMessage(t *testing.T) {
	assert.Equal(t, "line1 line2", SanitizeMessage("line1\nline2"))
	assert.Equal(t, "a  b", SanitizeMessage("a\r\nb"))
	assert.Equal(t, "tab\tkept", SanitizeMessage("tab\tkept"))
	assert.Equal(t, "bell", SanitizeMessage("be\x07ll"))
}

func TestIsSensitiveKey(t *testing.T) {
	for _, k := range []string{"password", "SMTP_PASS", "api_token", "client_secret", "Authorization"} {
		assert.True(t, IsSensitiveKey(k), k)
	}
	for _, k := range []string{"host", "recipient", "stage"} {
		assert.False(t, IsSensitiveKey(k), k)
	}
}

func TestLevelConversion(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := StringToLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := StringToLevel("verbose")
	assert.Error(t, err)

	assert.Equal(t, "DEBUG", LevelToString(slog.LevelDebug))
	assert.Equal(t, "WARN", LevelToString(slog.LevelWarn))
	assert.Equal(t, "INFO", LevelToString(slog.Level(42)))
}

func TestNewLogger_RedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelDebug, "json")
	require.NoError(t, err)

	logger.Info("auth configured", "username", "svc", "password", "hunter2", "reply", "250 ok\r\nINJECTED")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "***REDACTED***", entry["password"])
	assert.Equal(t, "svc", entry["username"])
	assert.Equal(t, "250 ok  INJECTED", entry["reply"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelInfo, "text")
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")

	_, err = NewLogger(&buf, slog.LevelInfo, "xml")
	assert.Error(t, err)
}

func TestSetup(t *testing.T) {
	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "send.log")
		logger, closer, err := Setup(Config{Level: "info", Format: "text", Output: path})
		require.NoError(t, err)
		logger.Info("written to file")
		require.NoError(t, closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
	})

	t.Run("stderr default", func(t *testing.T) {
		logger, closer, err := Setup(Config{})
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, closer.Close())
	})

	t.Run("invalid level", func(t *testing.T) {
		_, _, err := Setup(Config{Level: "loud"})
		assert.Error(t, err)
	})
}

func TestMessageLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, slog.LevelDebug, "json")
	require.NoError(t, err)
	ml := NewMessageLogger(logger)

	start := time.Now()
	ml.LogSendStart(MessageContext{DeliveryID: "d1", Mode: "direct", From: "a@x.com", To: []string{"b@y.com"}, StartTime: start})
	ml.LogRecipientFailed(MessageContext{DeliveryID: "d1", Recipient: "b@y.com", ErrorKind: "protocol", Stage: "RCPT TO", StartTime: start, EndTime: start})
	ml.LogSendComplete(MessageContext{DeliveryID: "d1", To: []string{"b@y.com"}, Failed: 1, StartTime: start, EndTime: start})

	out := buf.String()
	assert.Contains(t, out, `"msg":"message_send_start"`)
	assert.Contains(t, out, `"stage":"RCPT TO"`)
	assert.Contains(t, out, `"component":"message-lifecycle"`)
	assert.Contains(t, out, `"status":"failed"`)
}
