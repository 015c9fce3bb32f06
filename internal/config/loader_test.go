package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"WARDEN_SHELL", "WARDEN_HOST", "WARDEN_INSTALL_ROOT", "WARDEN_LOG_LEVEL", "WARDEN_SELF_PROTECTION"} {
		t.Setenv(k, "")
	}
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("Path = %q for a missing file", cfg.Path)
	}
	if cfg.Exec.DefaultTimeout != DefaultShellTimeout || !cfg.SelfProtection.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoadFileParsesAndExpands(t *testing.T) {
	clearEnv(t)
	t.Setenv("WARDEN_TEST_ROOT", "/opt/warden")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
exec:
  shell: /bin/bash
  host: sandbox
  default_timeout: 45s
  pty: prefer
  notify_on_exit: true
sessions:
  finished_ttl: 10m
  max_finished: 8
self_protection:
  enabled: true
  install_root: ${WARDEN_TEST_ROOT}
  protected_paths: [bin, lib]
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Exec.Shell != "/bin/bash" || cfg.Exec.Host != HostSandbox || cfg.Exec.Pty != "prefer" || !cfg.Exec.NotifyOnExit {
		t.Errorf("exec = %+v", cfg.Exec)
	}
	if cfg.Exec.DefaultTimeout != 45*time.Second {
		t.Errorf("default_timeout = %v", cfg.Exec.DefaultTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Exec.MaxOutputChars != DefaultMaxOutputChars {
		t.Errorf("max_output_chars = %d", cfg.Exec.MaxOutputChars)
	}
	if cfg.Sessions.FinishedTTL != 10*time.Minute || cfg.Sessions.MaxFinished != 8 {
		t.Errorf("sessions = %+v", cfg.Sessions)
	}
	if cfg.SelfProtection.InstallRoot != "/opt/warden" || len(cfg.SelfProtection.ProtectedPaths) != 2 {
		t.Errorf("self_protection = %+v", cfg.SelfProtection)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q", cfg.Logging.Level)
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("exec: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WARDEN_SHELL", "/bin/zsh")
	t.Setenv("WARDEN_INSTALL_ROOT", "/srv/warden")
	t.Setenv("WARDEN_LOG_LEVEL", "warn")
	t.Setenv("WARDEN_SELF_PROTECTION", "false")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Exec.Shell != "/bin/zsh" || cfg.SelfProtection.InstallRoot != "/srv/warden" || cfg.Logging.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.SelfProtection.Enabled {
		t.Fatal("WARDEN_SELF_PROTECTION=false ignored")
	}

	t.Setenv("WARDEN_SELF_PROTECTION", "maybe")
	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected an error for a non-boolean WARDEN_SELF_PROTECTION")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad host", func(c *Config) { c.Exec.Host = "remote" }, ErrInvalidHost},
		{"bad pty", func(c *Config) { c.Exec.Pty = "always" }, ErrInvalidPty},
		{"negative timeout", func(c *Config) { c.Exec.DefaultTimeout = -time.Second }, ErrNegativeTimeout},
		{"negative limit", func(c *Config) { c.Exec.TailChars = -1 }, ErrNegativeLimit},
		{"negative ttl", func(c *Config) { c.Sessions.FinishedTTL = -time.Minute }, ErrNegativeRetention},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, ErrInvalidLogLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != tt.want {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := DefaultConfig()
	cfg.Exec.Shell = "/bin/sh"
	cfg.Sessions.MaxFinished = 3
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, "warden", "config.yaml")
	if GetConfigPath() != path {
		t.Fatalf("GetConfigPath = %q", GetConfigPath())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm != 0o600 {
		t.Errorf("mode = %v, want 0600", perm)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Exec.Shell != "/bin/sh" || loaded.Sessions.MaxFinished != 3 || loaded.Exec.DefaultTimeout != DefaultShellTimeout {
		t.Fatalf("reloaded = %+v", loaded)
	}
}
