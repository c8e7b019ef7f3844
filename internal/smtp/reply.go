package smtp

import (
	"errors"
	"fmt"
	"io"

	"github.com/busybox42/sockmailer/internal/transcript"
	"github.com/busybox42/sockmailer/internal/transport"
)

// maxReplyLines bounds a multi-line reply.
const maxReplyLines = 100

// Reply is one complete server reply.
type Reply struct {
	Code  string
	Lines []string
}

// Last returns the terminal line.
func (r Reply) Last() string {
	if len(r.Lines) == 0 {
		return ""
	}
	return r.Lines[len(r.Lines)-1]
}

// ReadReply reads lines until the terminal line, where the fourth character
// is a space (or the line is only the code). Earlier lines are recorded in tr
// and otherwise ignored; only the terminal line must start with a code.
func ReadReply(conn transport.Conn, tr *transcript.Transcript) (Reply, error) {
	var reply Reply

	for n := 0; n < maxReplyLines; n++ {
		line, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return reply, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			if errors.Is(err, transport.ErrLineTooLong) {
				return reply, fmt.Errorf("%w: %v", ErrMalformedReply, err)
			}
			return reply, err
		}
		if tr != nil {
			tr.Received(line)
		}
		reply.Lines = append(reply.Lines, line)

		if !isTerminal(line) {
			continue
		}
		if !isDigits(line[:3]) {
			return reply, fmt.Errorf("%w: %q", ErrMalformedReply, line)
		}
		reply.Code = line[:3]
		return reply, nil
	}
	return reply, fmt.Errorf("%w: more than %d lines", ErrMalformedReply, maxReplyLines)
}

func isTerminal(line string) bool {
	return len(line) == 3 || (len(line) > 3 && line[3] == ' ')
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
