// Package config loads the sender configuration from a TOML file, fills
// unset options from the defaults and validates the result.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/busybox42/sockmailer/internal/cache"
	"github.com/busybox42/sockmailer/internal/delivery"
	"github.com/busybox42/sockmailer/internal/logging"
	"github.com/busybox42/sockmailer/internal/smtp"
	"github.com/busybox42/sockmailer/internal/transport"
)

// Duration is a time.Duration written as a string ("15s") in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the sender configuration
type Config struct {
	Transport TransportConfig `toml:"transport"`
	Delivery  DeliveryConfig  `toml:"delivery"`
	DNS       DNSConfig       `toml:"dns"`
	Cache     CacheConfig     `toml:"cache"`
	Breaker   BreakerConfig   `toml:"breaker"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// TransportConfig is the server connection and its credentials.
type TransportConfig struct {
	Host       string `toml:"host" comment:"relay server, also the EHLO name unless helo_name is set"`
	Port       string `toml:"port"`
	Username   string `toml:"username" comment:"AUTH LOGIN runs only when username and password are both set"`
	Password   string `toml:"password"`
	Encryption string `toml:"encryption" comment:"\"\" (none), \"ssl\" (implicit TLS) or \"tls\" (STARTTLS)"`
	HeloName   string `toml:"helo_name"`

	ConnectTimeout Duration `toml:"connect_timeout"`
	ReadTimeout    Duration `toml:"read_timeout"`

	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
	TLSMinVersion         string `toml:"tls_min_version"`
}

// DeliveryConfig selects the delivery strategy.
type DeliveryConfig struct {
	MTAModeOn   bool     `toml:"mta_mode_on" comment:"true delivers to each recipient's MX host instead of the relay"`
	Debug       int      `toml:"debug" comment:"0 off, 1 return errors, 2 stream the session transcript"`
	Concurrency int      `toml:"concurrency" comment:"parallel sessions in direct mode"`
	SendTimeout Duration `toml:"send_timeout" comment:"bound on a whole send, 0s for none"`
}

// DNSConfig configures MX lookups.
type DNSConfig struct {
	Timeout Duration `toml:"timeout"`
	Retries int      `toml:"retries"`
}

// CacheConfig selects the MX cache store.
type CacheConfig struct {
	Type     string   `toml:"type" comment:"memory, redis or memcached"`
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	Password string   `toml:"password"`
	Database int      `toml:"database"`
	Timeout  Duration `toml:"timeout"`
	TTL      Duration `toml:"ttl" comment:"0s keeps entries for the life of the store"`
}

// BreakerConfig configures per-host dial circuit breakers.
type BreakerConfig struct {
	Enabled     bool     `toml:"enabled"`
	MaxFailures uint32   `toml:"max_failures"`
	OpenTimeout Duration `toml:"open_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output" comment:"stdout, stderr or a file path"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Enabled  bool   `toml:"enabled"`
	TextFile string `toml:"textfile"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Transport.Host = "localhost"
	cfg.Transport.Port = "25"
	cfg.Transport.ConnectTimeout = Duration(30 * time.Second)
	cfg.Transport.ReadTimeout = Duration(30 * time.Second)
	cfg.Transport.TLSMinVersion = "1.2"

	cfg.Delivery.Concurrency = 1

	cfg.DNS.Timeout = Duration(10 * time.Second)
	cfg.DNS.Retries = 2

	cfg.Cache.Type = "memory"
	cfg.Cache.Timeout = Duration(time.Second)

	cfg.Breaker.MaxFailures = 5
	cfg.Breaker.OpenTimeout = Duration(30 * time.Second)

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stderr"

	return cfg
}

// FindConfigFile looks for a configuration file in common locations
func FindConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}

	locations := []string{
		"./sockmailer.toml",
		"./config/sockmailer.toml",
		os.ExpandEnv("$HOME/.sockmailer.toml"),
		"/etc/sockmailer/sockmailer.toml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", fmt.Errorf("no config file found")
}

// Load reads and decodes the configuration without validating it. Options
// missing from the file keep their defaults. When configPath is empty and
// no file is found in the usual locations, the defaults are returned with
// an empty file name.
func Load(configPath string) (*Config, string, error) {
	configFile, err := FindConfigFile(configPath)
	if err != nil {
		if configPath != "" {
			return nil, "", err
		}
		return DefaultConfig(), "", nil
	}

	if err := NewSecurityValidator().ValidateConfigFileSize(configFile); err != nil {
		return nil, "", fmt.Errorf("config file security validation failed: %w", err)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", configFile, err)
	}
	return cfg, configFile, nil
}

// Parse decodes TOML data and merges in the defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing TOML configuration: %w", err)
	}
	if err := mergo.Merge(&cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return &cfg, nil
}

// LoadConfig loads, validates and normalizes the configuration. Validation
// errors fail the load; warnings are logged.
func LoadConfig(configPath string) (*Config, error) {
	logger := slog.Default().With("component", "config")

	cfg, configFile, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if configFile == "" {
		logger.Debug("No config file found, using defaults")
	}

	result := cfg.Validate()
	if configFile != "" {
		NewConfigFileSecurity().CheckPermissions(configFile, cfg, result)
	}
	if !result.Valid {
		var errorMessages []string
		for _, err := range result.Errors {
			errorMessages = append(errorMessages, err.Error())
		}
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errorMessages, "; "))
	}
	for _, warning := range result.Warnings {
		logger.Warn("Configuration warning", "field", warning.Field, "message", warning.Message)
	}

	cfg.Normalize()
	logger.Debug("Configuration loaded",
		"file", configFile,
		"host", cfg.Transport.Host,
		"port", cfg.Transport.Port,
		"mta_mode_on", cfg.Delivery.MTAModeOn)
	return cfg, nil
}

// Normalize rewrites values that have a canonical form. Unrecognized
// encryption modes become "" (none).
func (c *Config) Normalize() {
	c.Transport.Encryption = string(smtp.ParseEncryption(c.Transport.Encryption))
	c.Cache.Type = strings.ToLower(strings.TrimSpace(c.Cache.Type))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// DeliveryConfig returns the delivery manager settings.
func (c *Config) DeliveryConfig() *delivery.Config {
	return &delivery.Config{
		Host:                  c.Transport.Host,
		Port:                  c.Transport.Port,
		Username:              c.Transport.Username,
		Password:              c.Transport.Password,
		Encryption:            smtp.ParseEncryption(c.Transport.Encryption),
		HeloName:              c.Transport.HeloName,
		MTAModeOn:             c.Delivery.MTAModeOn,
		Debug:                 delivery.DebugLevel(c.Delivery.Debug),
		Concurrency:           c.Delivery.Concurrency,
		ConnectTimeout:        c.Transport.ConnectTimeout.Std(),
		ReadTimeout:           c.Transport.ReadTimeout.Std(),
		SendTimeout:           c.Delivery.SendTimeout.Std(),
		TLSInsecureSkipVerify: c.Transport.TLSInsecureSkipVerify,
		TLSMinVersion:         c.Transport.TLSMinVersion,
	}
}

// CacheConfig returns the MX cache store settings.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		Type:     c.Cache.Type,
		Host:     c.Cache.Host,
		Port:     c.Cache.Port,
		Password: c.Cache.Password,
		Database: c.Cache.Database,
		Timeout:  c.Cache.Timeout.Std(),
	}
}

// BreakerSettings returns the dial breaker settings.
func (c *Config) BreakerSettings() transport.BreakerSettings {
	return transport.BreakerSettings{
		MaxFailures: c.Breaker.MaxFailures,
		OpenTimeout: c.Breaker.OpenTimeout.Std(),
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// Marshal encodes the configuration as commented TOML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# sockmailer configuration\n\n")
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveDefault writes the default configuration to configPath. It refuses
// to overwrite an existing file.
func SaveDefault(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}

	content, err := DefaultConfig().Marshal()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return NewConfigFileSecurity().CreateSecureConfigFile(configPath, content)
}
