package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"warden/internal/fileutil"
)

// Load loads configuration from the default config file and environment variables.
func Load() (*Config, error) {
	return LoadFile(getConfigPath())
}

// LoadFile loads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			// Config file is optional
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			cfg.Path = path
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getConfigPath returns the path to the config file.
func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "warden", "config.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		appSupport := filepath.Join(homeDir, "Library", "Application Support", "warden", "config.yaml")
		if _, err := os.Stat(appSupport); err == nil {
			return appSupport
		}
	}

	return filepath.Join(homeDir, ".config", "warden", "config.yaml")
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Expand environment variables in the config file
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadFromEnv loads configuration overrides from environment variables.
func loadFromEnv(cfg *Config) error {
	if shell := os.Getenv("WARDEN_SHELL"); shell != "" {
		cfg.Exec.Shell = shell
	}

	if host := os.Getenv("WARDEN_HOST"); host != "" {
		cfg.Exec.Host = host
	}

	if root := os.Getenv("WARDEN_INSTALL_ROOT"); root != "" {
		cfg.SelfProtection.InstallRoot = root
	}

	if level := os.Getenv("WARDEN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if v := os.Getenv("WARDEN_SELF_PROTECTION"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("WARDEN_SELF_PROTECTION: %w", err)
		}
		cfg.SelfProtection.Enabled = enabled
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Exec.Host {
	case HostShared, HostSandbox:
	default:
		return ErrInvalidHost
	}

	switch strings.ToLower(strings.TrimSpace(c.Exec.Pty)) {
	case "", "off", "prefer", "require":
	default:
		return ErrInvalidPty
	}

	if c.Exec.DefaultTimeout < 0 {
		return ErrNegativeTimeout
	}

	if c.Exec.MaxOutputChars < 0 || c.Exec.PendingMaxOutputChars < 0 || c.Exec.TailChars < 0 {
		return ErrNegativeLimit
	}

	if c.Sessions.FinishedTTL < 0 || c.Sessions.CleanupInterval < 0 || c.Sessions.MaxFinished < 0 {
		return ErrNegativeRetention
	}

	if c.Audit.MaxEntries < 0 || c.Audit.MaxResultLen < 0 || c.Audit.RetentionDays < 0 {
		return ErrNegativeAudit
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

// Error types for configuration validation.
type ConfigError string

func (e ConfigError) Error() string {
	return string(e)
}

const (
	ErrInvalidHost       ConfigError = "exec.host must be \"host\" or \"sandbox\""
	ErrInvalidPty        ConfigError = "exec.pty must be one of off, prefer, require"
	ErrNegativeTimeout   ConfigError = "exec.default_timeout must not be negative"
	ErrNegativeLimit     ConfigError = "exec output limits must not be negative"
	ErrNegativeRetention ConfigError = "sessions settings must not be negative"
	ErrNegativeAudit     ConfigError = "audit settings must not be negative"
	ErrInvalidLogLevel   ConfigError = "logging.level must be one of debug, info, warn, error"
)

// AuditDir returns the audit directory: audit.dir, or audit/ beside the
// config file.
func (c *Config) AuditDir() string {
	if c.Audit.Dir != "" {
		return c.Audit.Dir
	}
	path := c.Path
	if path == "" {
		path = getConfigPath()
	}
	if path == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(path), "audit")
}

// GetConfigPath returns the path to the config file (exported for external use).
func GetConfigPath() string {
	return getConfigPath()
}

// Save saves the configuration to its source file, or the default path.
func (c *Config) Save() error {
	configPath := c.Path
	if configPath == "" {
		configPath = getConfigPath()
	}
	if configPath == "" {
		return fmt.Errorf("could not determine config path")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := fileutil.AtomicWrite(configPath, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
