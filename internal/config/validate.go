package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/busybox42/sockmailer/internal/logging"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s (current value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult holds the results of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
	Valid    bool
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(field string, value interface{}, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message})
	vr.Valid = false
}

// AddWarning adds a validation warning
func (vr *ValidationResult) AddWarning(field string, value interface{}, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks every section. Passwords are never echoed in results.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}
	sv := NewSecurityValidator()

	c.validateTransport(result, sv)
	c.validateDelivery(result, sv)
	c.validateDNS(result)
	c.validateCache(result, sv)
	c.validateBreaker(result)
	c.validateLogging(result, sv)
	c.validateMetrics(result, sv)

	return result
}

func (c *Config) validateTransport(result *ValidationResult, sv *SecurityValidator) {
	t := c.Transport

	if err := sv.ValidateHostname(t.Host, "transport.host"); err != nil {
		result.AddError("transport.host", t.Host, err.Error())
	}
	if t.HeloName != "" {
		if err := sv.ValidateHostname(t.HeloName, "transport.helo_name"); err != nil {
			result.AddError("transport.helo_name", t.HeloName, err.Error())
		}
	}
	if err := sv.ValidatePort(t.Port, "transport.port"); err != nil {
		result.AddError("transport.port", t.Port, err.Error())
	}

	for field, value := range map[string]string{"transport.username": t.Username, "transport.password": t.Password} {
		if err := sv.ValidateStringLength(value, field); err != nil {
			result.AddError(field, "[hidden]", err.Error())
		}
		if strings.ContainsAny(value, "\r\n") {
			result.AddError(field, "[hidden]", "must not contain line breaks")
		}
	}
	if (t.Username == "") != (t.Password == "") {
		result.AddWarning("transport.username", t.Username, "AUTH LOGIN is skipped unless both username and password are set")
	}

	switch strings.ToLower(strings.TrimSpace(t.Encryption)) {
	case "", "ssl", "tls":
	default:
		result.AddWarning("transport.encryption", t.Encryption, `unrecognized encryption, using none (valid: "", "ssl", "tls")`)
	}

	switch t.TLSMinVersion {
	case "", "1.2", "1.3":
	case "1.0", "1.1":
		result.AddWarning("transport.tls_min_version", t.TLSMinVersion, "TLS versions below 1.2 are deprecated")
	default:
		result.AddError("transport.tls_min_version", t.TLSMinVersion, "must be one of 1.0, 1.1, 1.2, 1.3")
	}
	if t.TLSInsecureSkipVerify {
		result.AddWarning("transport.tls_insecure_skip_verify", true, "server certificates will not be verified")
	}

	if t.ConnectTimeout < 0 {
		result.AddError("transport.connect_timeout", t.ConnectTimeout.Std(), "must not be negative")
	}
	if t.ReadTimeout < 0 {
		result.AddError("transport.read_timeout", t.ReadTimeout.Std(), "must not be negative")
	}
}

func (c *Config) validateDelivery(result *ValidationResult, sv *SecurityValidator) {
	d := c.Delivery

	if d.Debug < 0 || d.Debug > 2 {
		result.AddError("delivery.debug", d.Debug, "must be 0 (off), 1 (on) or 2 (verbose)")
	}
	if d.Concurrency < 1 {
		result.AddError("delivery.concurrency", d.Concurrency, "must be at least 1")
	} else if d.Concurrency > sv.config.MaxConcurrency {
		result.AddError("delivery.concurrency", d.Concurrency, fmt.Sprintf("must be at most %d", sv.config.MaxConcurrency))
	}
	if d.Concurrency > 1 && !d.MTAModeOn {
		result.AddWarning("delivery.concurrency", d.Concurrency, "only used when mta_mode_on is true")
	}
	if d.SendTimeout < 0 {
		result.AddError("delivery.send_timeout", d.SendTimeout.Std(), "must not be negative")
	}
	if d.MTAModeOn && c.Transport.Port != "25" {
		result.AddWarning("transport.port", c.Transport.Port, "direct MX delivery normally uses port 25")
	}
}

func (c *Config) validateDNS(result *ValidationResult) {
	if c.DNS.Timeout < 0 {
		result.AddError("dns.timeout", c.DNS.Timeout.Std(), "must not be negative")
	}
	if c.DNS.Retries < 0 || c.DNS.Retries > 10 {
		result.AddError("dns.retries", c.DNS.Retries, "must be between 0 and 10")
	}
}

func (c *Config) validateCache(result *ValidationResult, sv *SecurityValidator) {
	switch strings.ToLower(strings.TrimSpace(c.Cache.Type)) {
	case "", "memory":
		return
	case "redis", "memcached":
	default:
		result.AddError("cache.type", c.Cache.Type, "must be memory, redis or memcached")
		return
	}

	if c.Cache.Host != "" {
		if err := sv.ValidateHostname(c.Cache.Host, "cache.host"); err != nil {
			result.AddError("cache.host", c.Cache.Host, err.Error())
		}
	}
	if c.Cache.Port < 0 || c.Cache.Port > 65535 {
		result.AddError("cache.port", c.Cache.Port, "must be 0 (backend default) or 1-65535")
	}
	if c.Cache.TTL < 0 {
		result.AddError("cache.ttl", c.Cache.TTL.Std(), "must not be negative")
	}
}

func (c *Config) validateBreaker(result *ValidationResult) {
	if !c.Breaker.Enabled {
		return
	}
	if c.Breaker.MaxFailures == 0 {
		result.AddError("breaker.max_failures", c.Breaker.MaxFailures, "must be at least 1")
	}
	if c.Breaker.OpenTimeout <= 0 {
		result.AddError("breaker.open_timeout", c.Breaker.OpenTimeout.Std(), "must be positive")
	}
}

func (c *Config) validateLogging(result *ValidationResult, sv *SecurityValidator) {
	if _, err := logging.StringToLevel(c.Logging.Level); err != nil {
		result.AddError("logging.level", c.Logging.Level, err.Error())
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		result.AddError("logging.format", c.Logging.Format, "must be text or json")
	}

	switch c.Logging.Output {
	case "", "stdout", "stderr":
	default:
		if err := sv.CheckPathTraversal(c.Logging.Output); err != nil {
			result.AddError("logging.output", c.Logging.Output, err.Error())
		} else if !dirExists(filepath.Dir(c.Logging.Output)) {
			result.AddWarning("logging.output", c.Logging.Output, "log directory does not exist")
		}
	}
}

func (c *Config) validateMetrics(result *ValidationResult, sv *SecurityValidator) {
	if !c.Metrics.Enabled {
		return
	}
	if c.Metrics.TextFile == "" {
		result.AddError("metrics.textfile", c.Metrics.TextFile, "required when metrics are enabled")
		return
	}
	if err := sv.CheckPathTraversal(c.Metrics.TextFile); err != nil {
		result.AddError("metrics.textfile", c.Metrics.TextFile, err.Error())
	} else if !dirExists(filepath.Dir(c.Metrics.TextFile)) {
		result.AddWarning("metrics.textfile", c.Metrics.TextFile, "directory does not exist")
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
