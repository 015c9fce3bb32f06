package config

import "time"

// Default configuration values.
const (
	// Execution
	DefaultShellTimeout          = 2 * time.Minute
	DefaultMaxOutputChars        = 200_000
	DefaultPendingMaxOutputChars = 30_000
	DefaultTailChars             = 400

	// Sessions
	DefaultFinishedTTL     = 30 * time.Minute
	DefaultMaxFinished     = 64
	DefaultCleanupInterval = time.Minute

	// Watcher
	DefaultWatchDebounceMs = 200

	// Audit
	DefaultAuditMaxEntries    = 10000
	DefaultAuditMaxResultLen  = 1000
	DefaultAuditRetentionDays = 30

	// Logging
	DefaultLogLevel = "info"
)

// Host modes.
const (
	HostShared  = "host"
	HostSandbox = "sandbox"
)
