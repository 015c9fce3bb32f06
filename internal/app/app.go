package app

import (
	"context"
	"sync"
	"time"

	"warden/internal/audit"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/process"
	"warden/internal/security"
	"warden/internal/tools"
	"warden/internal/watcher"
)

// App is the assembled execution core: guard, launcher, session registry
// and the tools that front them.
type App struct {
	cfg *config.Config

	ctx    context.Context
	cancel context.CancelFunc

	guard    *security.Guard
	launcher *process.Launcher
	sessions *process.Registry
	registry *tools.Registry
	audit    *audit.Logger

	notifications *tools.NotificationQueue

	configWatcher *watcher.Watcher
	workers       workerGroup
	signalCleanup func()

	mu           sync.Mutex
	shutdownOnce sync.Once
}

// New builds an App from cfg with default options.
func New(cfg *config.Config, workDir string) (*App, error) {
	return NewBuilder(cfg, workDir).Build()
}

// Context returns the app context, cancelled on shutdown or signal.
func (a *App) Context() context.Context { return a.ctx }

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Guard returns the self-protection guard.
func (a *App) Guard() *security.Guard { return a.guard }

// Sessions returns the background session registry.
func (a *App) Sessions() *process.Registry { return a.sessions }

// Tools returns the tool registry.
func (a *App) Tools() *tools.Registry { return a.registry }

// Notifications returns the queue of background exit events. It stays empty
// when the builder was given its own notifier.
func (a *App) Notifications() *tools.NotificationQueue { return a.notifications }

// Audit returns the tool-call audit logger.
func (a *App) Audit() *audit.Logger { return a.audit }

// Execute runs a tool by name and records the call in the audit trail.
func (a *App) Execute(ctx context.Context, name string, args map[string]any) tools.ToolResult {
	entry := audit.NewEntry(a.audit.RunID(), name, args)
	start := time.Now()

	result, err := a.registry.Execute(ctx, name, args)
	if err != nil {
		logging.Error("tool failed", "tool", name, "error", err)
		result = tools.NewErrorResult(err.Error())
	}

	sessionID := ""
	if data, ok := result.Data.(map[string]any); ok {
		sessionID, _ = data["session_id"].(string)
	}
	entry.Complete(result.Content, result.Success, result.Error, time.Since(start), sessionID)
	if err := a.audit.Log(entry); err != nil {
		logging.Warn("audit log failed", "tool", name, "error", err)
	}
	return result
}

// ReloadPolicy re-reads the config file and swaps in a freshly resolved
// guard policy. Other settings are left untouched; they apply on restart.
func (a *App) ReloadPolicy() error {
	a.mu.Lock()
	path := a.cfg.Path
	a.mu.Unlock()

	if path == "" {
		return nil
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		return NewAppError(ErrCodeConfig, "reload config", err)
	}
	if err := cfg.Validate(); err != nil {
		return NewAppError(ErrCodeConfig, "reload config", err)
	}

	policy, err := resolvePolicy(cfg)
	if err != nil {
		return NewAppError(ErrCodePolicy, "resolve policy", err)
	}
	a.guard.SetPolicy(policy)

	a.mu.Lock()
	a.cfg.SelfProtection = cfg.SelfProtection
	a.mu.Unlock()

	logging.Info("self-protection policy reloaded",
		"enabled", policy.Enabled,
		"install_root", policy.InstallRoot,
		"protected", len(policy.Protected))
	return nil
}

func (a *App) onConfigChange(path string, op watcher.Operation) {
	if op == watcher.OpDelete {
		// Keep the last good policy until a new file appears.
		logging.Warn("config file removed; keeping current policy", "path", path)
		return
	}
	if err := a.ReloadPolicy(); err != nil {
		logging.Error("policy reload failed", "path", path, "error", err)
	}
}

// Shutdown stops the watcher, terminates running sessions and waits for
// background goroutines.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		logging.Debug("starting shutdown")

		if a.signalCleanup != nil {
			a.signalCleanup()
		}

		if a.configWatcher != nil {
			if err := a.configWatcher.Stop(); err != nil {
				logging.Debug("error stopping config watcher", "error", err)
			}
		}

		if a.sessions != nil {
			running, _ := a.sessions.Len()
			if running > 0 {
				logging.Info("terminating background sessions", "count", running)
			}
			a.sessions.Shutdown(process.KillGraceWindow)
		}

		a.cancel()

		if a.audit != nil {
			_ = a.audit.Close()
		}

		if !a.workers.Close(GracefulShutdownTimeout) {
			logging.Warn("background goroutines did not stop in time")
		}

		logging.Debug("shutdown complete")
		logging.Close()
	})
}
