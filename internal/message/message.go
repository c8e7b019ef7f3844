// Package message holds the outgoing envelope and composes the header block
// sent in the DATA phase.
package message

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCharset is used when Mail.Charset is empty.
const DefaultCharset = "utf-8"

// Validation errors, reported before any connection is opened.
var (
	ErrNoSender        = errors.New("sender is empty")
	ErrNoRecipients    = errors.New("recipient list is empty")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidHeader   = errors.New("invalid header")
	ErrUnknownCharset  = errors.New("unknown charset")
	errLineBreakInText = errors.New("contains a line break")
)

// Header is one header field.
type Header struct {
	Name  string
	Value string
}

// Mail is one outgoing message. It is treated as read-only once handed to
// a sender; every send derives its own header set from it.
type Mail struct {
	From    Address
	To      []Address
	Cc      []Address
	Bcc     []Address
	Subject string
	Body    string
	Charset string

	// Headers are caller-supplied extra headers, emitted first and in order.
	Headers []Header
}

// AddHeader appends a custom header.
func (m *Mail) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// CharsetOrDefault returns the message charset.
func (m *Mail) CharsetOrDefault() string {
	if m.Charset == "" {
		return DefaultCharset
	}
	return m.Charset
}

// Recipients returns the envelope recipients: To, then Cc, then Bcc.
func (m *Mail) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			out = append(out, a.Email)
		}
	}
	return out
}

// Validate checks the envelope and headers.
func (m *Mail) Validate() error {
	if strings.TrimSpace(m.From.Email) == "" {
		return ErrNoSender
	}
	if err := m.From.validate(); err != nil {
		return fmt.Errorf("%w: sender: %v", ErrInvalidAddress, err)
	}

	recipients := 0
	for _, list := range [][]Address{m.To, m.Cc, m.Bcc} {
		for _, a := range list {
			if strings.TrimSpace(a.Email) == "" {
				continue
			}
			if err := a.validate(); err != nil {
				return fmt.Errorf("%w: recipient %q: %v", ErrInvalidAddress, a.Email, err)
			}
			recipients++
		}
	}
	if recipients == 0 {
		return ErrNoRecipients
	}

	for _, h := range m.Headers {
		if h.Name == "" || strings.ContainsAny(h.Name, ": \t\r\n") {
			return fmt.Errorf("%w: name %q", ErrInvalidHeader, h.Name)
		}
		if strings.ContainsAny(h.Value, "\r\n") {
			return fmt.Errorf("%w: %s %v", ErrInvalidHeader, h.Name, errLineBreakInText)
		}
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		return fmt.Errorf("%w: Subject %v", ErrInvalidHeader, errLineBreakInText)
	}

	if _, err := lookupEncoding(m.CharsetOrDefault()); err != nil {
		return err
	}
	return nil
}
