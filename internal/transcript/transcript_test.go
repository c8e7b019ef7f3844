package transcript

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	ts := time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestTranscript_RecordsDirectionAndOrder(t *testing.T) {
	tr := New(WithClock(fixedClock()))
	tr.Received("220 mx.example.com ESMTP\r\n")
	tr.Sent("EHLO localhost\r\n")
	tr.Received("250-mx.example.com")
	tr.Received("250 STARTTLS")

	lines := tr.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, Server, lines[0].Direction)
	assert.Equal(t, "220 mx.example.com ESMTP", lines[0].Text)
	assert.Equal(t, Client, lines[1].Direction)
	assert.Equal(t, "EHLO localhost", lines[1].Text)

	assert.Equal(t, 3, tr.Count(Server))
	assert.Equal(t, 1, tr.Count(Client))

	assert.Equal(t,
		"2024-03-01 14:05:09 SERVER -> CLIENT: 220 mx.example.com ESMTP\n"+
			"2024-03-01 14:05:09 CLIENT -> SERVER: EHLO localhost\n"+
			"2024-03-01 14:05:09 SERVER -> CLIENT: 250-mx.example.com\n"+
			"2024-03-01 14:05:09 SERVER -> CLIENT: 250 STARTTLS\n",
		tr.String())
}

func TestTranscript_SplitsMultiLinePayloads(t *testing.T) {
	tr := New()
	tr.Sent("Subject: hi\r\nTo: <b@y.com>\r\n\r\nbody\r\n")

	lines := tr.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "Subject: hi", lines[0].Text)
	assert.Equal(t, "", lines[2].Text)
	assert.Equal(t, "body", lines[3].Text)
}

func TestTranscript_Redaction(t *testing.T) {
	var stream bytes.Buffer
	tr := New(WithStream(&stream))
	tr.Sent("AUTH LOGIN\r\n")
	tr.SentRedacted()

	assert.Equal(t, Redacted, tr.Lines()[1].Text)
	assert.Contains(t, stream.String(), Redacted)
}

func TestTranscript_StreamsImmediately(t *testing.T) {
	var stream bytes.Buffer
	tr := New(WithStream(&stream), WithLabel("b@y.com"), WithClock(fixedClock()))

	tr.Received("220 ready")
	assert.Equal(t, "[b@y.com] 2024-03-01 14:05:09 SERVER -> CLIENT: 220 ready\n", stream.String())

	tr.Sent("QUIT\r\n")
	assert.Equal(t, 2, strings.Count(stream.String(), "\n"))
}

func TestTranscript_MirrorsToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tr := New(WithLogger(logger))
	tr.Sent("NOOP\r\n")

	assert.Contains(t, buf.String(), "smtp_line")
	assert.Contains(t, buf.String(), "session_id="+tr.ID())
	assert.Contains(t, buf.String(), "line=NOOP")
}

func TestTranscript_SanitizesControlCharacters(t *testing.T) {
	tr := New()
	tr.Received("250 ok\x1b[31m")
	assert.Equal(t, "250 ok[31m", tr.Lines()[0].Text)
}

func TestSyncWriter_ConcurrentTranscripts(t *testing.T) {
	var buf bytes.Buffer
	w := NewSyncWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := New(WithStream(w), WithLabel("r"))
			for j := 0; j < 50; j++ {
				tr.Sent("NOOP\r\n")
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 400)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, "[r] "), l)
		assert.True(t, strings.HasSuffix(l, "CLIENT -> SERVER: NOOP"), l)
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, New().ID(), New().ID())
}
