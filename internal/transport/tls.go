package transport

import (
	"crypto/tls"
	"fmt"
)

// NewTLSConfig builds the client TLS configuration used for both implicit
// TLS and STARTTLS. An empty minVersion means TLS 1.2.
func NewTLSConfig(insecureSkipVerify bool, minVersion string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
	}

	switch minVersion {
	case "1.0":
		tlsConfig.MinVersion = tls.VersionTLS10
	case "1.1":
		tlsConfig.MinVersion = tls.VersionTLS11
	case "1.2", "":
		tlsConfig.MinVersion = tls.VersionTLS12
	case "1.3":
		tlsConfig.MinVersion = tls.VersionTLS13
	default:
		return nil, fmt.Errorf("unsupported TLS version %q", minVersion)
	}

	return tlsConfig, nil
}
