package config

import (
	"fmt"
	"os"
)

// ConfigFileSecurity handles permissions on configuration files, which may
// hold SMTP and cache credentials.
type ConfigFileSecurity struct{}

// NewConfigFileSecurity creates a new configuration file security handler
func NewConfigFileSecurity() *ConfigFileSecurity {
	return &ConfigFileSecurity{}
}

// ContainsSensitiveData reports whether cfg carries any credential.
func (cfs *ConfigFileSecurity) ContainsSensitiveData(cfg *Config) bool {
	return cfg.Transport.Password != "" || cfg.Cache.Password != ""
}

// CheckPermissions adds a warning to result when filePath holds credentials
// and is readable by group or others.
func (cfs *ConfigFileSecurity) CheckPermissions(filePath string, cfg *Config, result *ValidationResult) {
	info, err := os.Stat(filePath)
	if err != nil {
		return
	}
	if cfs.ContainsSensitiveData(cfg) && info.Mode().Perm()&0o077 != 0 {
		result.AddWarning("file", filePath,
			fmt.Sprintf("file contains credentials but has mode %s; use 0600", info.Mode().Perm()))
	}
}

// CreateSecureConfigFile writes content readable by the owner only.
func (cfs *ConfigFileSecurity) CreateSecureConfigFile(filePath string, content []byte) error {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}
