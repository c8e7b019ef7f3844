package smtp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrorKind classifies a send failure.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindProtocol   ErrorKind = "protocol"
	KindTLSUpgrade ErrorKind = "tls_upgrade"
	KindValidation ErrorKind = "validation"
	KindResolution ErrorKind = "resolution"
)

var (
	// ErrConnectionClosed is the cause when the server closes the connection mid-reply.
	ErrConnectionClosed = errors.New("connection closed by server")
	// ErrMalformedReply is the cause when a reply line is not "DDD", "DDD text" or "DDD-text".
	ErrMalformedReply = errors.New("malformed reply")
)

// Error is the failure returned by a session or a send.
type Error struct {
	Kind  ErrorKind
	Stage Stage

	// Expected is the reply code the stage required.
	Expected string
	// Reply is the offending server text, if one was read.
	Reply string

	Host    string
	Port    string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindProtocol:
		if e.Reply != "" && e.Err == nil {
			return fmt.Sprintf("unable to send e-mail: %s expected %s, server replied %q", e.Stage, e.Expected, e.Reply)
		}
		return fmt.Sprintf("protocol error at %s: %v", e.Stage, e.Err)
	case KindConnection:
		what := "connection error"
		if e.Timeout {
			what = "connection timed out"
		}
		if e.Host != "" {
			return fmt.Sprintf("%s (%s) at %s: %v", what, net.JoinHostPort(e.Host, e.Port), e.Stage, e.Err)
		}
		return fmt.Sprintf("%s at %s: %v", what, e.Stage, e.Err)
	case KindTLSUpgrade:
		return fmt.Sprintf("unable to start tls encryption: %v", e.Err)
	case KindValidation:
		return fmt.Sprintf("invalid message: %v", e.Err)
	case KindResolution:
		return fmt.Sprintf("mail exchange resolution failed: %v", e.Err)
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the numeric reply code, or 0 when no reply was read.
func (e *Error) Code() int {
	if len(e.Reply) < 3 {
		return 0
	}
	code, err := strconv.Atoi(e.Reply[:3])
	if err != nil {
		return 0
	}
	return code
}

// Temporary reports a 4xx reply or a timeout.
func (e *Error) Temporary() bool {
	code := e.Code()
	return e.Timeout || (code >= 400 && code < 500)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// NewValidationError wraps a message validation failure.
func NewValidationError(err error) *Error {
	return &Error{Kind: KindValidation, Err: err}
}

// NewResolutionError wraps an MX resolution failure for one recipient.
func NewResolutionError(err error) *Error {
	return &Error{Kind: KindResolution, Stage: StageResolve, Err: err}
}
