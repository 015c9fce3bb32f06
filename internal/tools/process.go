package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"warden/internal/logging"
	"warden/internal/process"
)

const (
	// MaxPollWait caps how long poll blocks.
	MaxPollWait = 120 * time.Second
	// DefaultLogLimit is the number of lines log returns without a limit.
	DefaultLogLimit = 200
	// MaxLogLimit bounds the log window.
	MaxLogLimit = 2000
	// DefaultPendingMaxChars caps the text returned by one poll.
	DefaultPendingMaxChars = 30_000

	bracketedPasteStart = "\x1b[200~"
	bracketedPasteEnd   = "\x1b[201~"
)

var processActions = []string{
	"list", "status", "poll", "wait", "log", "tail",
	"write", "submit", "paste", "kill", "stop", "clear", "remove",
}

// ProcessTool manages background sessions started by the exec tool.
type ProcessTool struct {
	sessions        *process.Registry
	pendingMaxChars int
}

// NewProcessTool creates the process tool. pendingMaxChars <= 0 selects
// DefaultPendingMaxChars.
func NewProcessTool(sessions *process.Registry, pendingMaxChars int) *ProcessTool {
	if pendingMaxChars <= 0 {
		pendingMaxChars = DefaultPendingMaxChars
	}
	return &ProcessTool{sessions: sessions, pendingMaxChars: pendingMaxChars}
}

func (t *ProcessTool) Name() string {
	return "process"
}

func (t *ProcessTool) Description() string {
	return "Inspect and control background sessions: list, status, poll/wait, log/tail, write/submit/paste, kill/stop, clear/remove"
}

func (t *ProcessTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"action": {
					Type:        genai.TypeString,
					Description: "Operation to perform",
					Enum:        processActions,
				},
				"session_id": {
					Type:        genai.TypeString,
					Description: "Session id returned by exec (required for everything but list)",
				},
				"scope": {
					Type:        genai.TypeString,
					Description: "Only match sessions registered under this scope key",
				},
				"timeout": {
					Type:        genai.TypeInteger,
					Description: "poll/wait: milliseconds to wait for exit (max 120000)",
				},
				"offset": {
					Type:        genai.TypeInteger,
					Description: "log: first line to return (0-based). Omit to get the last lines",
				},
				"limit": {
					Type:        genai.TypeInteger,
					Description: "log/tail: number of lines (1-2000, default 200)",
				},
				"data": {
					Type:        genai.TypeString,
					Description: "write/submit/paste: text to send to stdin",
				},
				"eof": {
					Type:        genai.TypeBoolean,
					Description: "write/submit/paste: close stdin afterwards",
				},
				"signal": {
					Type:        genai.TypeString,
					Description: "kill/stop: SIGTERM, SIGKILL, SIGINT, SIGQUIT, SIGHUP, SIGUSR1 or SIGUSR2",
				},
			},
			Required: []string{"action"},
		},
	}
}

func (t *ProcessTool) Validate(args map[string]any) error {
	action, ok := GetString(args, "action")
	if !ok || action == "" {
		return NewValidationError("action", "is required")
	}
	known := false
	for _, a := range processActions {
		if a == action {
			known = true
			break
		}
	}
	if !known {
		return NewValidationError("action", fmt.Sprintf("unknown action %q", action))
	}
	if action != "list" {
		if id, _ := GetString(args, "session_id"); id == "" {
			return NewValidationError("session_id", "is required for "+action)
		}
	}
	return nil
}

func (t *ProcessTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	action, _ := GetString(args, "action")
	id, _ := GetString(args, "session_id")
	scope := resolveScope(ctx, args)

	switch action {
	case "list":
		return t.list(scope), nil
	case "clear", "remove":
		return t.remove(id, scope), nil
	}

	s, err := t.sessions.Get(id, scope)
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}

	switch action {
	case "status":
		sum := s.Summary()
		return NewSuccessResultWithData(formatSummary(sum), sum), nil
	case "poll", "wait":
		return t.poll(ctx, s, GetIntDefault(args, "timeout", 0)), nil
	case "log":
		offset, hasOffset := GetInt(args, "offset")
		return logWindow(s, offset, hasOffset, GetIntDefault(args, "limit", DefaultLogLimit)), nil
	case "tail":
		return logWindow(s, 0, false, GetIntDefault(args, "limit", DefaultLogLimit)), nil
	case "write", "submit", "paste":
		return writeStdin(s, action, GetStringDefault(args, "data", ""), GetBoolDefault(args, "eof", false)), nil
	case "kill":
		return signalSession(s, GetStringDefault(args, "signal", "SIGKILL")), nil
	case "stop":
		return signalSession(s, GetStringDefault(args, "signal", "SIGTERM")), nil
	}
	return NewErrorResult(fmt.Sprintf("unknown action %q", action)), nil
}

func (t *ProcessTool) list(scope string) ToolResult {
	sessions := t.sessions.List(scope)
	if len(sessions) == 0 {
		return NewSuccessResultWithData("No sessions.", []process.Summary{})
	}

	summaries := make([]process.Summary, 0, len(sessions))
	var b strings.Builder
	for _, s := range sessions {
		sum := s.Summary()
		summaries = append(summaries, sum)
		fmt.Fprintf(&b, "%s  %-9s  %-14s  %s\n", shortSessionID(sum.ID), sum.Status, sum.Exit, truncateCommand(sum.Command, 60))
	}
	return NewSuccessResultWithData(strings.TrimRight(b.String(), "\n"), summaries)
}

func (t *ProcessTool) remove(id, scope string) ToolResult {
	s, err := t.sessions.Remove(id, scope)
	if err != nil {
		return NewErrorResult(err.Error())
	}
	logging.Info("session removed", "session_id", id, "status", string(s.Status()))
	return NewSuccessResultWithData(fmt.Sprintf("Removed session %s.", id), map[string]any{
		"session_id": id,
		"removed":    true,
	})
}

// poll waits up to timeoutMs for a running session, then reports what it
// produced since the last poll. A session that had already exited returns
// its complete output.
func (t *ProcessTool) poll(ctx context.Context, s *process.Session, timeoutMs int) ToolResult {
	if !s.Running() {
		s.Drain()
		stdout, stderr := s.Stdout(), s.Stderr()
		return t.pollResult(s, stdout, stderr)
	}

	wait := time.Duration(timeoutMs) * time.Millisecond
	if wait > MaxPollWait {
		wait = MaxPollWait
	}
	if wait > 0 {
		waitForExit(ctx, s, wait)
	}
	stdout, stderr := s.Drain()
	return t.pollResult(s, stdout, stderr)
}

func waitForExit(ctx context.Context, s *process.Session, wait time.Duration) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	select {
	case <-s.Done():
	case <-deadline.C:
	case <-ctx.Done():
	}
}

func (t *ProcessTool) pollResult(s *process.Session, stdout, stderr string) ToolResult {
	sum := s.Summary()
	running := !sum.Status.Finished()

	clipped := false
	if n := len([]rune(stdout)) + len([]rune(stderr)); n > t.pendingMaxChars {
		stdout, stderr = clipPending(stdout, stderr, t.pendingMaxChars)
		clipped = true
	}

	var b strings.Builder
	if stdout == "" && stderr == "" {
		b.WriteString("(no new output)")
	} else {
		b.WriteString(formatOutput(stdout, stderr))
	}
	b.WriteString("\n\n")
	if running {
		fmt.Fprintf(&b, "Process still running (pid %d).", sum.Pid)
	} else {
		fmt.Fprintf(&b, "Process %s (%s).", sum.Status, sum.Exit)
	}
	if sum.Truncated {
		b.WriteString(" Output was truncated at the capture limit.")
	}
	if clipped {
		fmt.Fprintf(&b, " Showing the last %d characters.", t.pendingMaxChars)
	}

	data := map[string]any{
		"session_id": sum.ID,
		"running":    running,
		"status":     string(sum.Status),
		"truncated":  sum.Truncated,
		"stdout":     stdout,
		"stderr":     stderr,
	}
	if sum.ExitCode != nil {
		data["exit_code"] = *sum.ExitCode
	}
	if sum.ExitSignal != "" {
		data["exit_signal"] = sum.ExitSignal
	}
	return NewSuccessResultWithData(b.String(), data)
}

// clipPending keeps the newest limit characters, taking from stderr's tail
// first and then stdout's.
func clipPending(stdout, stderr string, limit int) (string, string) {
	errRunes := []rune(stderr)
	if len(errRunes) >= limit {
		return "", string(errRunes[len(errRunes)-limit:])
	}
	outRunes := []rune(stdout)
	keep := limit - len(errRunes)
	if len(outRunes) > keep {
		outRunes = outRunes[len(outRunes)-keep:]
	}
	return string(outRunes), stderr
}

// logWindow slices the session's full output by line. Without an offset the
// last limit lines are returned.
func logWindow(s *process.Session, offset int, hasOffset bool, limit int) ToolResult {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	lines := splitLines(s.Output())
	total := len(lines)

	start := 0
	if hasOffset {
		start = offset
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
	} else if total > limit {
		start = total - limit
	}
	end := start + limit
	if end > total {
		end = total
	}

	window := strings.Join(lines[start:end], "\n")
	content := window
	if content == "" {
		content = "(no output)"
	}
	sum := s.Summary()
	content += fmt.Sprintf("\n\n[lines %d-%d of %d, %s]", min(start+1, end), end, total, sum.Status)

	return NewSuccessResultWithData(content, map[string]any{
		"session_id":  sum.ID,
		"status":      string(sum.Status),
		"offset":      start,
		"limit":       limit,
		"total_lines": total,
		"output":      window,
		"truncated":   sum.Truncated,
	})
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func writeStdin(s *process.Session, action, data string, eof bool) ToolResult {
	if !s.Running() {
		return NewErrorResult((&process.StdinNotWritable{ID: s.ID, Reason: "session is not running"}).Error())
	}

	payload := data
	switch action {
	case "submit":
		if s.Pty {
			payload += "\r"
		} else {
			payload += "\n"
		}
	case "paste":
		if s.Pty {
			payload = bracketedPasteStart + data + bracketedPasteEnd
		}
	}

	if err := s.WriteStdin(payload, eof); err != nil {
		return NewErrorResult(err.Error())
	}
	msg := fmt.Sprintf("Wrote %d bytes to session %s.", len(payload), s.ID)
	if eof {
		msg += " Stdin closed."
	}
	return NewSuccessResultWithData(msg, map[string]any{
		"session_id": s.ID,
		"bytes":      len(payload),
		"eof":        eof,
	})
}

func signalSession(s *process.Session, name string) ToolResult {
	sig, err := process.ParseSignal(name)
	if err != nil {
		return NewErrorResult(err.Error())
	}
	if !s.Running() {
		return NewErrorResult(fmt.Sprintf("session %s is not running (%s)", s.ID, s.ExitLabel()))
	}
	if err := s.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return NewErrorResult(fmt.Sprintf("session %s is not running (%s)", s.ID, s.ExitLabel()))
		}
		return NewErrorResult(fmt.Sprintf("failed to signal session %s: %s", s.ID, err))
	}
	canonical := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(canonical, "SIG") {
		canonical = "SIG" + canonical
	}
	logging.Info("session signalled", "session_id", s.ID, "pid", s.Pid(), "signal", canonical)
	return NewSuccessResultWithData(fmt.Sprintf("Sent %s to session %s (pid %d).", canonical, s.ID, s.Pid()), map[string]any{
		"session_id": s.ID,
		"signal":     canonical,
	})
}

func formatSummary(sum process.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %s (%s)\n", sum.ID, sum.Status, sum.Exit)
	fmt.Fprintf(&b, "Command: %s\n", sum.Command)
	fmt.Fprintf(&b, "Cwd: %s\n", sum.Cwd)
	fmt.Fprintf(&b, "Shell: %s (login=%t, pty=%t)\n", sum.Shell, sum.Login, sum.Pty)
	if sum.Pid > 0 {
		fmt.Fprintf(&b, "Pid: %d\n", sum.Pid)
	}
	fmt.Fprintf(&b, "Started: %s, duration %s", sum.StartedAt.Format(time.RFC3339), (time.Duration(sum.DurationMs) * time.Millisecond).String())
	if sum.PtyWarning != "" {
		fmt.Fprintf(&b, "\nWarning: %s", sum.PtyWarning)
	}
	return b.String()
}

func shortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateCommand(cmd string, n int) string {
	cmd = strings.Join(strings.Fields(cmd), " ")
	r := []rune(cmd)
	if len(r) <= n {
		return cmd
	}
	return string(r[:n-3]) + "..."
}
