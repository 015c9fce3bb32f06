package config

import "time"

// Config represents the main application configuration.
type Config struct {
	Exec           ExecConfig           `yaml:"exec"`
	Sessions       SessionsConfig       `yaml:"sessions"`
	SelfProtection SelfProtectionConfig `yaml:"self_protection"`
	Logging        LoggingConfig        `yaml:"logging"`
	Watcher        WatcherConfig        `yaml:"watcher"`
	Audit          AuditConfig          `yaml:"audit"`

	// Runtime version information
	Version string `yaml:"-"`
	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// ExecConfig holds command execution settings.
type ExecConfig struct {
	Shell                 string        `yaml:"shell,omitempty"`          // Default: $SHELL, /bin/sh or powershell.exe
	Login                 bool          `yaml:"login"`                    // Run shells as login shells
	Host                  string        `yaml:"host"`                     // host or sandbox
	WorkDir               string        `yaml:"work_dir,omitempty"`       // Default working directory (default: cwd)
	DefaultTimeout        time.Duration `yaml:"default_timeout"`          // Foreground timeout when a call sets none
	MaxOutputChars        int           `yaml:"max_output_chars"`         // Per-stream capture limit
	PendingMaxOutputChars int           `yaml:"pending_max_output_chars"` // Cap on text returned by one poll
	Pty                   string        `yaml:"pty"`                      // off, prefer or require
	NotifyOnExit          bool          `yaml:"notify_on_exit"`           // Notify when background sessions exit
	TailChars             int           `yaml:"tail_chars"`               // Output tail attached to exit notifications
}

// SessionsConfig holds background session retention settings.
type SessionsConfig struct {
	FinishedTTL     time.Duration `yaml:"finished_ttl"`     // How long exited sessions stay readable
	MaxFinished     int           `yaml:"max_finished"`     // Cap on retained exited sessions
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Janitor period
}

// SelfProtectionConfig holds the self-protection guard settings.
type SelfProtectionConfig struct {
	Enabled        bool     `yaml:"enabled"`
	InstallRoot    string   `yaml:"install_root,omitempty"`    // Default: detected from the executable
	ProtectedPaths []string `yaml:"protected_paths,omitempty"` // Relative to install_root; default set when empty
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`          // Logging level: debug, info, warn, error
	File  string `yaml:"file,omitempty"` // Directory for warden.log; empty logs to stderr
}

// WatcherConfig holds config-file watching settings.
type WatcherConfig struct {
	Enabled    bool `yaml:"enabled"`     // Reload the guard policy when the config file changes
	DebounceMs int  `yaml:"debounce_ms"` // Debounce time in milliseconds
}

// AuditConfig holds tool-call audit trail settings.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir,omitempty"`  // Default: audit/ next to the config file
	MaxEntries    int    `yaml:"max_entries"`    // Entries kept per run
	MaxResultLen  int    `yaml:"max_result_len"` // Characters of output recorded per call
	RetentionDays int    `yaml:"retention_days"` // Run files older than this are removed
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Exec: ExecConfig{
			Host:                  HostShared,
			DefaultTimeout:        DefaultShellTimeout,
			MaxOutputChars:        DefaultMaxOutputChars,
			PendingMaxOutputChars: DefaultPendingMaxOutputChars,
			Pty:                   "off",
			TailChars:             DefaultTailChars,
		},
		Sessions: SessionsConfig{
			FinishedTTL:     DefaultFinishedTTL,
			MaxFinished:     DefaultMaxFinished,
			CleanupInterval: DefaultCleanupInterval,
		},
		SelfProtection: SelfProtectionConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		Watcher: WatcherConfig{
			Enabled:    true,
			DebounceMs: DefaultWatchDebounceMs,
		},
		Audit: AuditConfig{
			Enabled:       true,
			MaxEntries:    DefaultAuditMaxEntries,
			MaxResultLen:  DefaultAuditMaxResultLen,
			RetentionDays: DefaultAuditRetentionDays,
		},
	}
}
