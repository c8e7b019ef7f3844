package delivery

import (
	"time"

	"github.com/busybox42/sockmailer/internal/smtp"
)

// Mode selects the delivery strategy.
type Mode string

const (
	ModeRelay  Mode = "relay"  // one session through the configured server
	ModeDirect Mode = "direct" // one session per recipient to its MX host
)

// DebugLevel controls error propagation and transcript exposure.
type DebugLevel int

const (
	// DebugOff reports relay failures as Result.Success == false only.
	DebugOff DebugLevel = iota
	// DebugOn returns relay failures as errors.
	DebugOn
	// DebugVerbose also streams every transcript line and attaches the
	// full transcript to the result.
	DebugVerbose
)

func (d DebugLevel) String() string {
	switch {
	case d <= DebugOff:
		return "off"
	case d == DebugOn:
		return "on"
	default:
		return "verbose"
	}
}

// Route is one session to run: a server and the recipients it receives.
type Route struct {
	Mode       Mode
	Domain     string
	Host       string
	Port       string
	Recipients []string
}

// RecipientResult is the outcome for one recipient.
type RecipientResult struct {
	Recipient string         `json:"recipient"`
	Host      string         `json:"host,omitempty"`
	Success   bool           `json:"success"`
	Kind      smtp.ErrorKind `json:"kind,omitempty"`
	Stage     smtp.Stage     `json:"stage,omitempty"`
	Err       error          `json:"-"`
	Duration  time.Duration  `json:"duration"`
}

// Result aggregates one Send call.
type Result struct {
	DeliveryID string            `json:"delivery_id"`
	Mode       Mode              `json:"mode"`
	Success    bool              `json:"success"`
	Recipients []RecipientResult `json:"recipients"`
	Failed     int               `json:"failed"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Transcript is set in verbose mode, whatever the outcome.
	Transcript string `json:"transcript,omitempty"`
}

// Delivered returns the number of recipients that were accepted.
func (r *Result) Delivered() int {
	return len(r.Recipients) - r.Failed
}

// FirstError returns the first recipient error, if any.
func (r *Result) FirstError() error {
	for _, rr := range r.Recipients {
		if rr.Err != nil {
			return rr.Err
		}
	}
	return nil
}
