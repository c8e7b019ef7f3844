package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SecurityConfig holds security validation limits
type SecurityConfig struct {
	MaxConfigFileSize int64 // Maximum config file size
	MaxStringLength   int   // Maximum length of any string option
	MaxConcurrency    int   // Maximum parallel sessions
}

// DefaultSecurityConfig returns the default limits
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		MaxConfigFileSize: 1024 * 1024, // 1MB
		MaxStringLength:   1024,
		MaxConcurrency:    256,
	}
}

// SecurityValidator checks option values for malformed or hostile input
type SecurityValidator struct {
	config *SecurityConfig
}

// NewSecurityValidator creates a new security validator
func NewSecurityValidator() *SecurityValidator {
	return &SecurityValidator{
		config: DefaultSecurityConfig(),
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]([a-zA-Z0-9_\-]{0,61}[a-zA-Z0-9_])?(\.[a-zA-Z0-9_]([a-zA-Z0-9_\-]{0,61}[a-zA-Z0-9_])?)*$`)

// ValidatePort validates a port given as a string
func (sv *SecurityValidator) ValidatePort(port, fieldName string) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port for %s: %q is not a number", fieldName, port)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("invalid port for %s: %d (must be 1-65535)", fieldName, n)
	}
	return nil
}

// ValidateHostname validates a host name or IP address
func (sv *SecurityValidator) ValidateHostname(hostname, fieldName string) error {
	if hostname == "" {
		return fmt.Errorf("hostname cannot be empty for %s", fieldName)
	}
	if len(hostname) > 253 {
		return fmt.Errorf("hostname too long for %s: %d (max 253)", fieldName, len(hostname))
	}
	if strings.ContainsAny(hostname, "\r\n\x00 ") {
		return fmt.Errorf("hostname for %s contains whitespace or control characters", fieldName)
	}
	if hostname == "localhost" || net.ParseIP(strings.Trim(hostname, "[]")) != nil {
		return nil
	}
	if !hostnameRegex.MatchString(strings.TrimSuffix(hostname, ".")) {
		return fmt.Errorf("invalid hostname format for %s: %s", fieldName, hostname)
	}
	return nil
}

// ValidateStringLength validates string lengths to prevent memory exhaustion
func (sv *SecurityValidator) ValidateStringLength(str, fieldName string) error {
	if !utf8.ValidString(str) {
		return fmt.Errorf("invalid UTF-8 encoding in %s", fieldName)
	}
	if len(str) > sv.config.MaxStringLength {
		return fmt.Errorf("string too long for %s: %d characters (max: %d)", fieldName, len(str), sv.config.MaxStringLength)
	}
	return nil
}

// CheckPathTraversal checks for parent directory references
func (sv *SecurityValidator) CheckPathTraversal(path string) error {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("parent directory reference detected: %s", path)
		}
	}
	return nil
}

// ValidateConfigFileSize validates the size of the configuration file
func (sv *SecurityValidator) ValidateConfigFileSize(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("cannot stat config file: %w", err)
	}

	if info.Size() > sv.config.MaxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max: %d)", info.Size(), sv.config.MaxConfigFileSize)
	}

	return nil
}
