package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"warden/internal/logging"
)

const (
	// KillGraceWindow is how long a terminated process may linger before it
	// is killed outright.
	KillGraceWindow = 2 * time.Second
	// MinTimeout is the floor applied to foreground timeouts.
	MinTimeout = time.Second
	// DefaultTimeout applies when a foreground request sets none.
	DefaultTimeout = 2 * time.Minute
	// DefaultMaxOutputChars bounds each captured stream.
	DefaultMaxOutputChars = 200_000

	// pipeWaitDelay bounds how long Wait keeps reading pipes that outlived
	// the shell (daemonized grandchildren).
	pipeWaitDelay = 2 * time.Second
)

// LauncherOptions configures a Launcher.
type LauncherOptions struct {
	// Shell defaults to DefaultShell().
	Shell string
	Login bool
	// GraceWindow defaults to KillGraceWindow.
	GraceWindow time.Duration
	// BaseEnv defaults to SafeEnv().
	BaseEnv []string
	// LookPath overrides the PTY helper lookup.
	LookPath func(string) (string, error)
}

// Launcher spawns shells. PTY availability is probed once per Launcher.
type Launcher struct {
	shell   string
	login   bool
	grace   time.Duration
	baseEnv []string
	pty     ptyProbe
}

// NewLauncher creates a launcher.
func NewLauncher(opts LauncherOptions) *Launcher {
	l := &Launcher{
		shell:   opts.Shell,
		login:   opts.Login,
		grace:   opts.GraceWindow,
		baseEnv: opts.BaseEnv,
	}
	if l.shell == "" {
		l.shell = DefaultShell()
	}
	if l.grace <= 0 {
		l.grace = KillGraceWindow
	}
	if l.baseEnv == nil {
		l.baseEnv = SafeEnv()
	}
	l.pty.lookPath = opts.LookPath
	return l
}

// Shell returns the launcher's default shell.
func (l *Launcher) Shell() string { return l.shell }

// Request describes one execution.
type Request struct {
	Command string
	Cwd     string
	Env     map[string]string
	// Timeout is floored at MinTimeout for foreground runs. For background
	// runs zero means no timeout.
	Timeout time.Duration
	Pty     PtyMode
	// Shell and Login override the launcher defaults when set.
	Shell string
	Login *bool
	// Stdin is written after spawn. A non-nil empty string is an explicit
	// end-of-input marker.
	Stdin      *string
	CloseStdin bool

	MaxOutputChars int
	ScopeKey       string
	NotifyOnExit   bool
	OnUpdate       UpdateFunc
}

// Outcome is the result of a finished execution.
type Outcome struct {
	SessionID       string        `json:"session_id,omitempty"`
	Status          Status        `json:"status"`
	ExitCode        *int          `json:"exit_code,omitempty"`
	ExitSignal      string        `json:"exit_signal,omitempty"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	Output          string        `json:"output"`
	StdoutTruncated bool          `json:"stdout_truncated"`
	StderrTruncated bool          `json:"stderr_truncated"`
	TimedOut        bool          `json:"timed_out"`
	Pid             int           `json:"pid,omitempty"`
	Pty             bool          `json:"pty"`
	PtyWarning      string        `json:"pty_warning,omitempty"`
	Duration        time.Duration `json:"duration"`
	Error           string        `json:"error,omitempty"`
}

// LaunchSpec is the input to Launch.
type LaunchSpec struct {
	Shell   string
	Login   bool
	Command string
	Cwd     string
	Env     map[string]string
	Pty     PtyMode
}

// Handle is a prepared, not yet started, process.
type Handle struct {
	Cmd        *exec.Cmd
	Shell      string
	Login      bool
	Pty        bool
	PtyWarning string
}

// Launch validates the working directory and prepares the shell invocation,
// wrapping it in a pseudo-terminal helper when requested and available.
func (l *Launcher) Launch(spec LaunchSpec) (*Handle, error) {
	cwd, err := validateWorkDir(spec.Cwd)
	if err != nil {
		return nil, err
	}

	shell := spec.Shell
	if shell == "" {
		shell = l.shell
	}
	args := BuildShellArgs(shell, spec.Login, spec.Command)
	argv := append([]string{shell}, args...)

	h := &Handle{Shell: shell, Login: spec.Login}
	if spec.Pty == PtyPrefer || spec.Pty == PtyRequire {
		if runtime.GOOS == "windows" {
			if spec.Pty == PtyRequire {
				return nil, &PtyUnavailable{Reason: "pty wrapping is not supported on windows"}
			}
			h.PtyWarning = "pty is not supported on windows; running without a terminal"
		} else if helper, err := l.pty.helper(); err != nil {
			if spec.Pty == PtyRequire {
				return nil, &PtyUnavailable{Reason: err.Error()}
			}
			h.PtyWarning = "pty unavailable (" + err.Error() + "); running without a terminal"
		} else {
			argv = wrapWithPty(helper, shell, args)
			h.Pty = true
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = MergeEnv(l.baseEnv, spec.Env)
	cmd.WaitDelay = pipeWaitDelay
	setProcAttr(cmd)
	h.Cmd = cmd
	return h, nil
}

func validateWorkDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", &WorkingDirectoryInvalid{Path: dir, Reason: err.Error()}
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &WorkingDirectoryInvalid{Path: dir, Reason: err.Error()}
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &WorkingDirectoryInvalid{Path: abs, Reason: "does not exist"}
		}
		return "", &WorkingDirectoryInvalid{Path: abs, Reason: err.Error()}
	}
	if !info.IsDir() {
		return "", &WorkingDirectoryInvalid{Path: abs, Reason: "not a directory"}
	}
	return abs, nil
}

// Start spawns req and returns its live session without registering it.
func (l *Launcher) Start(req Request, background bool) (*Session, error) {
	login := l.login
	if req.Login != nil {
		login = *req.Login
	}

	h, err := l.Launch(LaunchSpec{
		Shell:   req.Shell,
		Login:   login,
		Command: req.Command,
		Cwd:     req.Cwd,
		Env:     req.Env,
		Pty:     req.Pty,
	})
	if err != nil {
		return nil, err
	}

	s := newSession(newSessionID(), h, req, background)
	if err := s.start(); err != nil {
		return nil, err
	}

	logging.Info("process started",
		"session_id", s.ID,
		"pid", s.Pid(),
		"shell", s.Shell,
		"pty", s.Pty,
		"background", background,
		"cwd", s.Cwd)

	switch {
	case req.Stdin != nil:
		go l.feedStdin(s, *req.Stdin, req.CloseStdin || *req.Stdin == "")
	case !background:
		// Nothing to send; give the command EOF instead of a pipe that never ends.
		_ = s.CloseStdin()
	}
	return s, nil
}

func (l *Launcher) feedStdin(s *Session, data string, closeAfter bool) {
	if err := s.WriteStdin(data, closeAfter); err != nil {
		logging.Debug("stdin payload not delivered", "session_id", s.ID, "error", err)
	}
}

// RunForeground runs req to completion. On timeout or ctx cancellation the
// process group gets SIGTERM, then SIGKILL after the grace window.
func (l *Launcher) RunForeground(ctx context.Context, req Request) (*Outcome, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout < MinTimeout {
		timeout = MinTimeout
	}

	s, err := l.Start(req, false)
	if err != nil {
		return nil, err
	}

	l.supervise(ctx, s, timeout)
	<-s.Done()
	return s.Outcome(), nil
}

// StartBackground spawns req, registers the session and returns at once.
func (l *Launcher) StartBackground(req Request, reg *Registry) (*Session, error) {
	s, err := l.Start(req, true)
	if err != nil {
		return nil, err
	}
	reg.Add(s)

	if req.Timeout > 0 {
		timeout := req.Timeout
		if timeout < MinTimeout {
			timeout = MinTimeout
		}
		go l.supervise(context.Background(), s, timeout)
	}
	return s, nil
}

// supervise returns when the session exits, terminating it first if the
// timeout fires or ctx is cancelled.
func (l *Launcher) supervise(ctx context.Context, s *Session, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.Done():
		return
	case <-timer.C:
		s.markTimedOut()
		logging.With("session_id", s.ID, "pid", s.Pid()).
			Warn("process timed out", "timeout", timeout.String())
	case <-ctx.Done():
		logging.With("session_id", s.ID, "pid", s.Pid()).Info("process cancelled")
	}

	s.terminate(l.grace)
	<-s.Done()
}
