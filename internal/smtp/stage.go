package smtp

import "strings"

// Stage names the protocol step a dialogue is in.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageConnect  Stage = "connect"
	StageGreeting Stage = "greeting"
	StageEHLO     Stage = "EHLO"
	StageStartTLS Stage = "STARTTLS"
	StageAuth     Stage = "AUTH LOGIN"
	StageMailFrom Stage = "MAIL FROM"
	StageRcptTo   Stage = "RCPT TO"
	StageData     Stage = "DATA"
	StageMessage  Stage = "end of data"
	StageQuit     Stage = "QUIT"
)

// Encryption selects how the connection is secured.
type Encryption string

const (
	// EncryptionNone sends everything in plaintext.
	EncryptionNone Encryption = ""
	// EncryptionSSL wraps the connection in TLS before the greeting (implicit TLS).
	EncryptionSSL Encryption = "ssl"
	// EncryptionTLS upgrades a plaintext connection with STARTTLS.
	EncryptionTLS Encryption = "tls"
)

// ParseEncryption normalizes s; unrecognized values mean no encryption.
func ParseEncryption(s string) Encryption {
	switch Encryption(strings.ToLower(strings.TrimSpace(s))) {
	case EncryptionSSL:
		return EncryptionSSL
	case EncryptionTLS:
		return EncryptionTLS
	default:
		return EncryptionNone
	}
}

// ImplicitTLS reports whether TLS starts with the connection.
func (e Encryption) ImplicitTLS() bool { return e == EncryptionSSL }

// StartTLS reports whether the session upgrades with STARTTLS.
func (e Encryption) StartTLS() bool { return e == EncryptionTLS }

func (e Encryption) String() string {
	if e == EncryptionNone {
		return "none"
	}
	return string(e)
}
