package app

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"warden/internal/audit"
	"warden/internal/config"
	"warden/internal/logging"
	"warden/internal/process"
	"warden/internal/security"
	"warden/internal/tools"
	"warden/internal/watcher"
)

// Builder provides a fluent interface for constructing App instances.
type Builder struct {
	cfg     *config.Config
	workDir string

	notifier      process.Notifier
	logOutput     io.Writer
	handleSignals bool
	watchConfig   bool
}

// NewBuilder creates a builder for cfg. An empty workDir uses the current directory.
func NewBuilder(cfg *config.Config, workDir string) *Builder {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Builder{
		cfg:         cfg,
		workDir:     workDir,
		watchConfig: cfg.Watcher.Enabled,
	}
}

// WithNotifier sets where background exit notifications go. By default they
// are logged and queued for App.Notifications.
func (b *Builder) WithNotifier(n process.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithLogOutput sends logs to w when no log file is configured.
func (b *Builder) WithLogOutput(w io.Writer) *Builder {
	b.logOutput = w
	return b
}

// WithSignalHandling installs SIGINT/SIGTERM handling that cancels the app context.
func (b *Builder) WithSignalHandling(enabled bool) *Builder {
	b.handleSignals = enabled
	return b
}

// WithConfigWatch toggles reloading the guard policy when the config file changes.
func (b *Builder) WithConfigWatch(enabled bool) *Builder {
	b.watchConfig = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*App, error) {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, NewAppError(ErrCodeConfig, "invalid configuration", err)
	}

	b.initLogging()

	workDir, err := b.resolveWorkDir()
	if err != nil {
		return nil, NewAppError(ErrCodeConfig, "resolve working directory", err)
	}

	policy, err := resolvePolicy(cfg)
	if err != nil {
		return nil, NewAppError(ErrCodePolicy, "resolve self-protection policy", err)
	}

	ptyMode, err := process.ParsePtyMode(cfg.Exec.Pty)
	if err != nil {
		return nil, NewAppError(ErrCodeConfig, "exec.pty", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		guard:  security.NewGuard(policy),
		launcher: process.NewLauncher(process.LauncherOptions{
			Shell: cfg.Exec.Shell,
			Login: cfg.Exec.Login,
		}),
	}

	a.notifications = tools.NewNotificationQueue(0)
	notifier := b.notifier
	if notifier == nil {
		a.notifications.SetOnNotify(process.LogNotifier{}.NotifyExit)
		notifier = a.notifications
	}
	a.sessions = process.NewRegistry(process.RegistryOptions{
		FinishedTTL: cfg.Sessions.FinishedTTL,
		MaxFinished: cfg.Sessions.MaxFinished,
		TailChars:   cfg.Exec.TailChars,
		Notifier:    notifier,
		Redactor:    security.NewSecretRedactor(),
	})
	a.workers.Go(func() {
		a.sessions.Run(ctx, cfg.Sessions.CleanupInterval)
	})

	a.registry = tools.NewRegistry()
	a.registry.MustRegister(tools.NewExecTool(a.launcher, a.sessions, a.guard, tools.ExecOptions{
		WorkDir:        workDir,
		Host:           cfg.Exec.Host,
		DefaultTimeout: cfg.Exec.DefaultTimeout,
		MaxOutputChars: cfg.Exec.MaxOutputChars,
		Pty:            ptyMode,
		NotifyOnExit:   cfg.Exec.NotifyOnExit,
	}))
	a.registry.MustRegister(tools.NewProcessTool(a.sessions, cfg.Exec.PendingMaxOutputChars))

	a.audit = b.newAuditLogger()

	if b.watchConfig && cfg.Path != "" {
		if err := a.startConfigWatcher(cfg); err != nil {
			// Reloading is a convenience; run with the policy already loaded.
			logging.Warn("config watcher unavailable", "path", cfg.Path, "error", err)
		}
	}

	if b.handleSignals {
		a.signalCleanup = a.setupSignalHandler()
	}

	logging.Info("warden ready",
		"shell", a.launcher.Shell(),
		"host", cfg.Exec.Host,
		"work_dir", workDir,
		"self_protection", policy.Enabled,
		"install_root", policy.InstallRoot)

	return a, nil
}

func (b *Builder) initLogging() {
	level := logging.ParseLevel(b.cfg.Logging.Level)
	dir := b.cfg.Logging.File
	if dir == "" {
		if b.logOutput != nil {
			logging.Configure(level, b.logOutput)
		}
		return
	}

	err := logging.EnableFileLogging(dir, level)
	if err == nil {
		return
	}
	out := b.logOutput
	if out == nil {
		out = os.Stderr
	}
	logging.Configure(level, out)
	logging.Warn("file logging unavailable", "dir", dir, "error", err)
}

// newAuditLogger opens the audit trail for this run. Failures disable
// auditing rather than the app.
func (b *Builder) newAuditLogger() *audit.Logger {
	cfg := b.cfg.Audit
	disabled, _ := audit.NewLogger("", "", audit.Config{}, nil)
	dir := b.cfg.AuditDir()
	if !cfg.Enabled || dir == "" {
		return disabled
	}

	l, err := audit.NewLogger(dir, uuid.NewString(), audit.Config{
		Enabled:       true,
		MaxEntries:    cfg.MaxEntries,
		MaxResultLen:  cfg.MaxResultLen,
		RetentionDays: cfg.RetentionDays,
	}, security.NewSecretRedactor())
	if err != nil {
		logging.Warn("audit trail unavailable", "dir", dir, "error", err)
		return disabled
	}
	if removed, err := l.CleanupOldFiles(); err == nil && removed > 0 {
		logging.Debug("removed expired audit runs", "count", removed)
	}
	return l
}

func (b *Builder) resolveWorkDir() (string, error) {
	dir := b.workDir
	if dir == "" {
		dir = b.cfg.Exec.WorkDir
	}
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}

func (a *App) startConfigWatcher(cfg *config.Config) error {
	w, err := watcher.NewWatcher([]string{cfg.Path}, watcher.Config{
		Enabled:    true,
		DebounceMs: cfg.Watcher.DebounceMs,
	})
	if err != nil {
		return err
	}
	w.SetOnFileChange(a.onConfigChange)
	if err := w.Start(); err != nil {
		return err
	}
	a.configWatcher = w
	return nil
}

func resolvePolicy(cfg *config.Config) (*security.Policy, error) {
	return security.ResolvePolicy(security.PolicyOptions{
		Enabled:        cfg.SelfProtection.Enabled,
		InstallRoot:    cfg.SelfProtection.InstallRoot,
		ProtectedPaths: cfg.SelfProtection.ProtectedPaths,
	})
}
