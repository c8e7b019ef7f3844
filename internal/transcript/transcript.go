// Package transcript records the lines of one SMTP dialogue with
// timestamps and direction markers. Credential lines are stored as a
// placeholder, never as the encoded secret.
package transcript

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/busybox42/sockmailer/internal/logging"
)

// Direction marks who sent a line.
type Direction int

const (
	// Client lines were written by us.
	Client Direction = iota
	// Server lines were read from the peer.
	Server
)

func (d Direction) String() string {
	if d == Server {
		return "SERVER -> CLIENT"
	}
	return "CLIENT -> SERVER"
}

// Redacted replaces credential lines.
const Redacted = "[credentials hidden]"

const timeLayout = "2006-01-02 15:04:05"

// Line is one transcript entry.
type Line struct {
	Time      time.Time
	Direction Direction
	Text      string
}

func (l Line) String() string {
	return fmt.Sprintf("%s %s: %s", l.Time.Format(timeLayout), l.Direction, l.Text)
}

// Transcript is safe for concurrent use, though a dialogue only ever
// appends from one goroutine.
type Transcript struct {
	id     string
	label  string
	stream io.Writer
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	lines []Line
}

// Option configures a Transcript.
type Option func(*Transcript)

// WithStream writes every line to w as soon as it is recorded. Share a
// SyncWriter between transcripts that stream to the same destination.
func WithStream(w io.Writer) Option {
	return func(t *Transcript) { t.stream = w }
}

// WithLogger mirrors every line to logger at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcript) { t.logger = l }
}

// WithLabel prefixes streamed lines, e.g. with the recipient a session serves.
func WithLabel(label string) Option {
	return func(t *Transcript) { t.label = label }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Transcript) { t.now = now }
}

// New creates an empty transcript with a fresh ID.
func New(opts ...Option) *Transcript {
	t := &Transcript{
		id:  uuid.NewString(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID identifies the dialogue in logs.
func (t *Transcript) ID() string { return t.id }

// Sent records client output. Multi-line payloads are split on line breaks.
func (t *Transcript) Sent(text string) {
	for _, line := range splitLines(text) {
		t.record(Client, line)
	}
}

// SentRedacted records that a credential line was sent.
func (t *Transcript) SentRedacted() {
	t.record(Client, Redacted)
}

// Received records a server line.
func (t *Transcript) Received(text string) {
	t.record(Server, strings.TrimRight(text, "\r\n"))
}

func (t *Transcript) record(dir Direction, text string) {
	line := Line{Time: t.now(), Direction: dir, Text: logging.SanitizeMessage(text)}

	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()

	if t.stream != nil {
		out := line.String()
		if t.label != "" {
			out = "[" + t.label + "] " + out
		}
		_, _ = io.WriteString(t.stream, out+"\n")
	}
	if t.logger != nil {
		t.logger.Debug("smtp_line",
			"session_id", t.id,
			"direction", dir.String(),
			"line", line.Text)
	}
}

// Lines returns a copy of the recorded lines.
func (t *Transcript) Lines() []Line {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Line, len(t.lines))
	copy(out, t.lines)
	return out
}

// Count returns the number of lines recorded in direction d.
func (t *Transcript) Count(d Direction) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, l := range t.lines {
		if l.Direction == d {
			n++
		}
	}
	return n
}

// String renders the transcript one line per entry.
func (t *Transcript) String() string {
	var b strings.Builder
	for _, l := range t.Lines() {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\r\n")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// SyncWriter serializes whole-line writes from concurrent transcripts.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
