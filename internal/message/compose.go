package message

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Headers is an ordered header block.
type Headers []Header

// Get returns the first value for name, case-insensitively.
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Lines renders each header as "Name: Value".
func (h Headers) Lines() []string {
	out := make([]string, len(h))
	for i, f := range h {
		out[i] = f.Name + ": " + f.Value
	}
	return out
}

// String renders the block with CRLF after every header.
func (h Headers) String() string {
	var b strings.Builder
	for _, line := range h.Lines() {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	return b.String()
}

// reserved headers are always produced by the composer.
var reserved = map[string]bool{
	"subject":                   true,
	"to":                        true,
	"cc":                        true,
	"bcc":                       true,
	"from":                      true,
	"date":                      true,
	"mime-version":              true,
	"message-id":                true,
	"content-transfer-encoding": true,
	"content-type":              true,
}

// Composer builds the header block for a Mail.
type Composer struct {
	// Hostname is the Message-ID domain when the sender has none.
	Hostname string
	Now      func() time.Time
}

// NewComposer creates a composer using the wall clock.
func NewComposer(hostname string) *Composer {
	return &Composer{Hostname: hostname, Now: time.Now}
}

// Content is a Mail rendered for the wire: headers with Date and Message-ID
// still unset, and the body in the message charset. It is built once per
// send and stamped per session.
type Content struct {
	Sender  string
	Headers Headers
	Body    []byte
}

// Compose returns custom headers first, then Subject, To, Cc, From, Date,
// MIME-Version, Message-ID, Content-Transfer-Encoding and Content-Type.
// Bcc recipients never appear.
func (c *Composer) Compose(m *Mail) (Headers, error) {
	content, err := c.Prepare(m)
	if err != nil {
		return nil, err
	}
	return c.Stamp(content), nil
}

// Prepare encodes every header and the body in the message charset. Any
// text the charset cannot represent fails here, before a server is contacted.
func (c *Composer) Prepare(m *Mail) (*Content, error) {
	charset := m.CharsetOrDefault()

	subject, err := EncodeWord(m.Subject, charset)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	to, err := formatList(m.To, charset)
	if err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if to == "" {
		to = "undisclosed-recipients:;"
	}
	cc, err := formatList(m.Cc, charset)
	if err != nil {
		return nil, fmt.Errorf("cc: %w", err)
	}
	from, err := m.From.format(charset)
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	body, err := Transcode(m.Body, charset)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}

	headers := make(Headers, 0, len(m.Headers)+9)
	for _, h := range m.Headers {
		if reserved[strings.ToLower(h.Name)] {
			continue
		}
		headers = append(headers, h)
	}

	headers = append(headers, Header{"Subject", subject}, Header{"To", to})
	if cc != "" {
		headers = append(headers, Header{"Cc", cc})
	}
	headers = append(headers,
		Header{"From", from},
		Header{"Date", ""},
		Header{"MIME-Version", "1.0"},
		Header{"Message-ID", ""},
		Header{"Content-Transfer-Encoding", "8bit"},
		Header{"Content-Type", "text/html; charset=" + charset},
	)
	return &Content{Sender: m.From.Email, Headers: headers, Body: body}, nil
}

// Stamp returns a copy of content's headers with Date and Message-ID set
// from the composer clock.
func (c *Composer) Stamp(content *Content) Headers {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	out := make(Headers, len(content.Headers))
	copy(out, content.Headers)
	for i := range out {
		switch out[i].Name {
		case "Date":
			out[i].Value = now.Format(time.RFC3339)
		case "Message-ID":
			out[i].Value = MessageID(content.Sender, c.Hostname, now)
		}
	}
	return out
}

func formatList(list []Address, charset string) (string, error) {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		if a.Email == "" {
			continue
		}
		s, err := a.format(charset)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", "), nil
}

// MessageID returns <md5(sender+millis) millis @domain>. The domain is the
// sender's, or fallbackHost when the sender has no '@'.
func MessageID(sender, fallbackHost string, now time.Time) string {
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	sum := md5.Sum([]byte(sender + millis))

	domain := fallbackHost
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		domain = sender[at+1:]
	}
	return "<" + hex.EncodeToString(sum[:]) + millis + "@" + domain + ">"
}

// EncodeWord returns s as an RFC 2047 "B" encoded word in charset. It always
// encodes, even for plain ASCII input.
func EncodeWord(s, charset string) (string, error) {
	raw, err := Transcode(s, charset)
	if err != nil {
		return "", err
	}
	return "=?" + charset + "?B?" + base64.StdEncoding.EncodeToString(raw) + "?=", nil
}

// Transcode converts UTF-8 text to charset.
func Transcode(s, charset string) ([]byte, error) {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return []byte(s), nil
	}
	out, err := enc.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w", charset, err)
	}
	return []byte(out), nil
}

// lookupEncoding returns nil for UTF-8, which needs no conversion.
func lookupEncoding(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharset, charset)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return nil, nil
	}
	return enc, nil
}
