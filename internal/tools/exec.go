package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"warden/internal/logging"
	"warden/internal/process"
	"warden/internal/security"
)

// Host modes. The environment sanitizer only runs on a shared host.
const (
	HostShared  = "host"
	HostSandbox = "sandbox"
)

const (
	// MaxYield caps how long exec waits for a yielded command before handing
	// back a session id.
	MaxYield = 120 * time.Second
)

// ExecOptions configures the exec tool.
type ExecOptions struct {
	WorkDir        string
	Host           string
	DefaultTimeout time.Duration
	MaxOutputChars int
	Pty            process.PtyMode
	NotifyOnExit   bool
}

// ExecTool runs shell commands in the foreground or as background sessions.
type ExecTool struct {
	launcher *process.Launcher
	sessions *process.Registry
	guard    *security.Guard
	opts     ExecOptions
}

// NewExecTool creates the exec tool. guard may be nil to skip self-protection.
func NewExecTool(launcher *process.Launcher, sessions *process.Registry, guard *security.Guard, opts ExecOptions) *ExecTool {
	if opts.Host == "" {
		opts.Host = HostShared
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = process.DefaultTimeout
	}
	if opts.Pty == "" {
		opts.Pty = process.PtyOff
	}
	return &ExecTool{launcher: launcher, sessions: sessions, guard: guard, opts: opts}
}

func (t *ExecTool) Name() string {
	return "exec"
}

func (t *ExecTool) Description() string {
	return `Runs a shell command and returns its output, or starts it as a background session.

PARAMETERS:
- command (required): shell command text
- workdir: working directory (default: the workspace)
- env: extra environment variables
- timeout: seconds before the command is terminated (minimum 1)
- pty: "off", "prefer" or "require" a pseudo-terminal
- background: return a session id immediately
- yield_ms: run in the background but wait this long for it to finish first
- stdin / eof: text to write to stdin, and whether to close stdin afterwards
- notify_on_exit: emit a notification when a background session exits

Background sessions are managed with the process tool.
Commands that would delete or reset protected directories are blocked.`
}

func (t *ExecTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"command": {
					Type:        genai.TypeString,
					Description: "The shell command to execute",
				},
				"workdir": {
					Type:        genai.TypeString,
					Description: "Working directory, absolute or relative to the workspace",
				},
				"env": {
					Type:        genai.TypeObject,
					Description: "Environment variables to set for this command",
				},
				"timeout": {
					Type:        genai.TypeNumber,
					Description: "Timeout in seconds (minimum 1)",
				},
				"pty": {
					Type:        genai.TypeString,
					Description: "Pseudo-terminal preference",
					Enum:        []string{"off", "prefer", "require"},
				},
				"background": {
					Type:        genai.TypeBoolean,
					Description: "Start in the background and return a session id",
				},
				"yield_ms": {
					Type:        genai.TypeInteger,
					Description: "Start in the background, but return the result if it finishes within this many milliseconds",
				},
				"stdin": {
					Type:        genai.TypeString,
					Description: "Text written to the command's stdin after it starts",
				},
				"eof": {
					Type:        genai.TypeBoolean,
					Description: "Close stdin after writing the stdin text",
				},
				"scope": {
					Type:        genai.TypeString,
					Description: "Scope key the background session is registered under",
				},
				"notify_on_exit": {
					Type:        genai.TypeBoolean,
					Description: "Emit a notification when the background session exits",
				},
			},
			Required: []string{"command"},
		},
	}
}

func (t *ExecTool) Validate(args map[string]any) error {
	command, ok := GetString(args, "command")
	if !ok || strings.TrimSpace(command) == "" {
		return NewValidationError("command", "is required")
	}
	if v, ok := args["timeout"]; ok && v != nil {
		secs, ok := GetFloat(args, "timeout")
		if !ok || secs < 0 {
			return NewValidationError("timeout", "must be a non-negative number of seconds")
		}
	}
	if v, ok := args["yield_ms"]; ok && v != nil {
		ms, ok := GetInt(args, "yield_ms")
		if !ok || ms < 0 {
			return NewValidationError("yield_ms", "must be a non-negative integer")
		}
	}
	if _, err := parsePtyArg(args); err != nil {
		return NewValidationError("pty", err.Error())
	}
	if _, err := GetStringMap(args, "env"); err != nil {
		return err
	}
	return nil
}

func parsePtyArg(args map[string]any) (process.PtyMode, error) {
	switch v := args["pty"].(type) {
	case nil:
		return "", nil
	case bool:
		if v {
			return process.PtyPrefer, nil
		}
		return process.PtyOff, nil
	case string:
		return process.ParsePtyMode(v)
	}
	return "", fmt.Errorf("must be off, prefer or require")
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	command, _ := GetString(args, "command")

	env, err := GetStringMap(args, "env")
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}
	if t.opts.Host != HostSandbox {
		if err := security.ValidateHostEnv(env); err != nil {
			return NewErrorResult(err.Error()), nil
		}
	}

	cwd := t.resolveWorkDir(GetStringDefault(args, "workdir", ""))
	if t.guard != nil {
		if err := t.guard.Check(command, cwd); err != nil {
			return NewErrorResult(err.Error()), nil
		}
	}

	req := process.Request{
		Command:        command,
		Cwd:            cwd,
		Env:            env,
		Pty:            t.opts.Pty,
		MaxOutputChars: t.opts.MaxOutputChars,
		ScopeKey:       resolveScope(ctx, args),
		NotifyOnExit:   GetBoolDefault(args, "notify_on_exit", t.opts.NotifyOnExit),
	}
	if mode, _ := parsePtyArg(args); mode != "" {
		req.Pty = mode
	}
	if secs, ok := GetFloat(args, "timeout"); ok && secs > 0 {
		req.Timeout = time.Duration(secs * float64(time.Second))
	}
	if stdin, ok := GetString(args, "stdin"); ok {
		req.Stdin = &stdin
		req.CloseStdin = GetBoolDefault(args, "eof", false)
	}

	yieldMs := GetIntDefault(args, "yield_ms", 0)
	switch {
	case GetBoolDefault(args, "background", false):
		return t.runBackground(req)
	case yieldMs > 0:
		return t.runYielded(ctx, req, time.Duration(yieldMs)*time.Millisecond)
	}

	if req.Timeout == 0 {
		req.Timeout = t.opts.DefaultTimeout
	}
	if onText := GetStreamingCallback(ctx); onText != nil {
		req.OnUpdate = func(_ process.Stream, chunk string) { onText(chunk) }
	}
	out, err := t.launcher.RunForeground(ctx, req)
	if err != nil {
		return NewErrorResult(launchError(err)), nil
	}
	return outcomeResult(out, req.Timeout), nil
}

func (t *ExecTool) resolveWorkDir(dir string) string {
	switch {
	case dir == "":
		return t.opts.WorkDir
	case strings.HasPrefix(dir, "~"):
		return security.ResolvePath(dir, t.opts.WorkDir)
	case filepath.IsAbs(dir) || t.opts.WorkDir == "":
		return dir
	}
	return filepath.Join(t.opts.WorkDir, dir)
}

func (t *ExecTool) runBackground(req process.Request) (ToolResult, error) {
	s, err := t.launcher.StartBackground(req, t.sessions)
	if err != nil {
		return NewErrorResult(launchError(err)), nil
	}
	return backgroundResult(s), nil
}

// runYielded starts req as a session and waits up to yield for it. A command
// that finishes in time is reported like a foreground run and its session is
// dropped; otherwise the caller gets the session id.
func (t *ExecTool) runYielded(ctx context.Context, req process.Request, yield time.Duration) (ToolResult, error) {
	if yield > MaxYield {
		yield = MaxYield
	}
	s, err := t.launcher.StartBackground(req, t.sessions)
	if err != nil {
		return NewErrorResult(launchError(err)), nil
	}

	timer := time.NewTimer(yield)
	defer timer.Stop()
	select {
	case <-s.Done():
		_, _ = t.sessions.Remove(s.ID, s.ScopeKey)
		return outcomeResult(s.Outcome(), req.Timeout), nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return backgroundResult(s), nil
}

func launchError(err error) string {
	var wd *process.WorkingDirectoryInvalid
	var pty *process.PtyUnavailable
	if errors.As(err, &wd) || errors.As(err, &pty) {
		return err.Error()
	}
	logging.Error("spawn failed", "error", err)
	return fmt.Sprintf("failed to start command: %s", err)
}

func backgroundResult(s *process.Session) ToolResult {
	var b strings.Builder
	fmt.Fprintf(&b, "Command running in background (session %s, pid %d).\n", s.ID, s.Pid())
	b.WriteString("Use the process tool with this session_id to poll, log, write or kill it.")
	if s.PtyWarning != "" {
		b.WriteString("\nWarning: ")
		b.WriteString(s.PtyWarning)
	}
	return NewSuccessResultWithData(b.String(), map[string]any{
		"session_id": s.ID,
		"pid":        s.Pid(),
		"status":     string(process.StatusRunning),
		"background": true,
		"pty":        s.Pty,
	})
}

// outcomeResult renders a finished run. Non-zero exits and signal deaths
// are reported as failed results that still carry the output.
func outcomeResult(out *process.Outcome, timeout time.Duration) ToolResult {
	content := formatOutput(out.Stdout, out.Stderr)
	var notes []string
	if out.StdoutTruncated || out.StderrTruncated {
		notes = append(notes, "(output truncated)")
	}
	if out.PtyWarning != "" {
		notes = append(notes, "Warning: "+out.PtyWarning)
	}
	if len(notes) > 0 {
		content += "\n" + strings.Join(notes, "\n")
	}

	data := map[string]any{
		"status":           string(out.Status),
		"stdout_truncated": out.StdoutTruncated,
		"stderr_truncated": out.StderrTruncated,
		"timed_out":        out.TimedOut,
		"pid":              out.Pid,
		"pty":              out.Pty,
		"duration_ms":      out.Duration.Milliseconds(),
	}
	if out.ExitCode != nil {
		data["exit_code"] = *out.ExitCode
	}
	if out.ExitSignal != "" {
		data["exit_signal"] = out.ExitSignal
	}

	var errMsg string
	switch out.Status {
	case process.StatusCompleted:
		result := NewSuccessResultWithData(content, data)
		result.Duration = out.Duration.Round(time.Millisecond).String()
		return result
	case process.StatusTimeout:
		errMsg = fmt.Sprintf("command timed out after %v. For long-running commands, use background=true", timeout)
	case process.StatusKilled:
		errMsg = fmt.Sprintf("command killed by %s", out.ExitSignal)
	default:
		if out.ExitCode != nil {
			errMsg = fmt.Sprintf("command exited with code %d", *out.ExitCode)
		} else {
			errMsg = fmt.Sprintf("command failed: %s", out.Error)
		}
	}
	result := NewErrorResultWithData(errMsg, content, data)
	result.Duration = out.Duration.Round(time.Millisecond).String()
	return result
}

func formatOutput(stdout, stderr string) string {
	var output strings.Builder
	output.WriteString(stdout)
	if stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n")
		output.WriteString(stderr)
	}
	if output.Len() == 0 {
		return "(no output)"
	}
	return output.String()
}
