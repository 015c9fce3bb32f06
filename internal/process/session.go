package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"warden/internal/logging"
)

// Status is a session's lifecycle state:
// spawning -> running -> {completed, failed, timeout, killed}.
type Status string

const (
	StatusSpawning  Status = "spawning"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusKilled    Status = "killed"
)

// Finished reports whether s is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusKilled:
		return true
	}
	return false
}

// Stream names an output stream.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// UpdateFunc receives output chunks as they arrive.
type UpdateFunc func(stream Stream, chunk string)

// Session is one spawned shell with its buffered output and lifecycle.
// Exported fields are fixed at creation; everything else is guarded by mu
// and written only by the session's own stream/exit path or by an explicit
// control call.
type Session struct {
	ID           string
	ScopeKey     string
	Command      string
	Cwd          string
	Shell        string
	Login        bool
	Pty          bool
	PtyWarning   string
	CreatedAt    time.Time
	Backgrounded bool
	NotifyOnExit bool

	maxChars int
	onUpdate UpdateFunc

	// Set before the process starts; used only by the copiers and wait.
	stdoutW *streamWriter
	stderrW *streamWriter

	// stdinMu serializes writes to the pipe so a blocked write never holds mu
	// and stalls the output path.
	stdinMu sync.Mutex

	mu          sync.Mutex
	status      Status
	cmd         *exec.Cmd
	pid         int
	stdin       io.WriteCloser
	stdinClosed bool
	stdout      OutputCapture
	stderr      OutputCapture
	aggregated  OutputCapture
	stdoutRead  int
	stderrRead  int
	exitCode    *int
	exitSignal  string
	waitErr     string
	endedAt     time.Time
	timedOut    bool
	done        chan struct{}
}

func newSession(id string, h *Handle, req Request, background bool) *Session {
	maxChars := req.MaxOutputChars
	if maxChars <= 0 {
		maxChars = DefaultMaxOutputChars
	}
	return &Session{
		ID:           id,
		ScopeKey:     req.ScopeKey,
		Command:      req.Command,
		Cwd:          h.Cmd.Dir,
		Shell:        h.Shell,
		Login:        h.Login,
		Pty:          h.Pty,
		PtyWarning:   h.PtyWarning,
		CreatedAt:    time.Now(),
		Backgrounded: background,
		NotifyOnExit: req.NotifyOnExit,
		maxChars:     maxChars,
		onUpdate:     req.OnUpdate,
		status:       StatusSpawning,
		cmd:          h.Cmd,
		done:         make(chan struct{}),
	}
}

// streamWriter feeds one output stream into the session. A multibyte
// character split across two pipe reads is held back until it completes.
// Each writer is driven by a single copier goroutine.
type streamWriter struct {
	s       *Session
	stream  Stream
	partial []byte
}

func (w *streamWriter) Write(p []byte) (int, error) {
	buf := p
	if len(w.partial) > 0 {
		buf = append(w.partial, p...)
		w.partial = nil
	}
	if cut := incompleteTail(buf); cut < len(buf) {
		w.partial = append([]byte(nil), buf[cut:]...)
		buf = buf[:cut]
	}
	if len(buf) > 0 {
		w.s.appendOutput(w.stream, string(buf))
	}
	return len(p), nil
}

// flush delivers bytes still held back when the stream ends.
func (w *streamWriter) flush() {
	if len(w.partial) > 0 {
		w.s.appendOutput(w.stream, string(w.partial))
		w.partial = nil
	}
}

// incompleteTail returns where a trailing, unfinished UTF-8 sequence starts
// in b, or len(b) when b ends on a character boundary.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}

// start wires the output streams and stdin, then spawns the process and
// begins waiting for it.
func (s *Session) start() error {
	s.stdoutW = &streamWriter{s: s, stream: StreamStdout}
	s.stderrW = &streamWriter{s: s, stream: StreamStderr}
	s.cmd.Stdout = s.stdoutW
	s.cmd.Stderr = s.stderrW
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.Shell, err)
	}

	s.mu.Lock()
	s.stdin = stdin
	s.pid = s.cmd.Process.Pid
	s.status = StatusRunning
	s.mu.Unlock()

	go s.wait()
	return nil
}

// wait blocks on the process. exec.Cmd.Wait returns only after the stdout
// and stderr copiers have delivered everything, so the exit transition is
// always the last event of a session.
func (s *Session) wait() {
	err := s.cmd.Wait()
	s.stdoutW.flush()
	s.stderrW.flush()
	s.finish(s.cmd.ProcessState, err)
}

func (s *Session) appendOutput(stream Stream, text string) {
	s.mu.Lock()
	switch stream {
	case StreamStdout:
		s.stdout.Push(text, s.maxChars)
	case StreamStderr:
		s.stderr.Push(text, s.maxChars)
	}
	s.aggregated.Push(text, s.maxChars)
	onUpdate := s.onUpdate
	s.mu.Unlock()

	if onUpdate != nil {
		onUpdate(stream, text)
	}
}

func (s *Session) finish(state *os.ProcessState, waitErr error) {
	s.mu.Lock()
	s.endedAt = time.Now()
	s.exitSignal = exitSignalName(state)
	if state != nil && state.ExitCode() >= 0 {
		code := state.ExitCode()
		s.exitCode = &code
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		s.waitErr = waitErr.Error()
	}

	switch {
	case s.timedOut:
		s.status = StatusTimeout
	case s.exitSignal != "":
		s.status = StatusKilled
	case s.exitCode != nil && *s.exitCode != 0:
		s.status = StatusFailed
	case s.exitCode == nil && s.waitErr != "":
		s.status = StatusFailed
	default:
		s.status = StatusCompleted
	}
	s.stdinClosed = true
	status := s.status
	s.mu.Unlock()

	logging.Debug("session exited",
		"session_id", s.ID,
		"pid", s.Pid(),
		"status", string(status),
		"exit", s.ExitLabel())
	close(s.done)
}

// Done is closed once the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running reports whether the process has not exited yet.
func (s *Session) Running() bool {
	return !s.Status().Finished()
}

// Pid returns the OS pid, or 0 before spawn.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// EndedAt returns when the session exited; zero while running.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// ExitLabel renders the exit for humans: "exit 0", "signal SIGTERM", "timeout".
func (s *Session) ExitLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitLabelLocked()
}

func (s *Session) exitLabelLocked() string {
	switch {
	case !s.status.Finished():
		return "running"
	case s.status == StatusTimeout:
		return "timeout"
	case s.exitSignal != "":
		return "signal " + s.exitSignal
	case s.exitCode != nil:
		return fmt.Sprintf("exit %d", *s.exitCode)
	case s.waitErr != "":
		return "error: " + s.waitErr
	}
	return "exited"
}

// Output returns stdout and stderr interleaved in arrival order.
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregated.String()
}

// Stdout returns everything captured from stdout.
func (s *Session) Stdout() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.String()
}

// Stderr returns everything captured from stderr.
func (s *Session) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stderr.String()
}

// Truncated reports, per stream, whether output was dropped.
func (s *Session) Truncated() (stdout, stderr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.Truncated(), s.stderr.Truncated()
}

// Drain returns output appended since the previous Drain and advances the
// per-stream read offsets.
func (s *Session) Drain() (stdout, stderr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stdout, s.stdoutRead = s.stdout.Since(s.stdoutRead)
	stderr, s.stderrRead = s.stderr.Since(s.stderrRead)
	return stdout, stderr
}

// WriteStdin writes data to a running session. With closeAfter the pipe is
// closed once the write completes.
func (s *Session) WriteStdin(data string, closeAfter bool) error {
	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	s.mu.Lock()
	stdin, finished, closed := s.stdin, s.status.Finished(), s.stdinClosed
	if closeAfter && !finished && !closed {
		s.stdinClosed = true
	}
	s.mu.Unlock()

	if finished {
		return &StdinNotWritable{ID: s.ID, Reason: "session has exited"}
	}
	if stdin == nil || closed {
		return &StdinNotWritable{ID: s.ID, Reason: "stdin is closed"}
	}
	if data != "" {
		if _, err := io.WriteString(stdin, data); err != nil {
			return &StdinNotWritable{ID: s.ID, Reason: err.Error()}
		}
	}
	if closeAfter {
		if err := stdin.Close(); err != nil {
			return &StdinNotWritable{ID: s.ID, Reason: err.Error()}
		}
	}
	return nil
}

// CloseStdin signals end of input.
func (s *Session) CloseStdin() error {
	return s.WriteStdin("", true)
}

// Signal delivers sig to the session's process group.
func (s *Session) Signal(sig syscall.Signal) error {
	s.mu.Lock()
	pid, finished := s.pid, s.status.Finished()
	s.mu.Unlock()

	if finished || pid == 0 {
		return os.ErrProcessDone
	}
	return signalGroup(pid, sig)
}

func (s *Session) markTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Finished() {
		s.timedOut = true
	}
}

// terminate sends SIGTERM and escalates to SIGKILL if the process is still
// alive after grace.
func (s *Session) terminate(grace time.Duration) {
	if err := s.Signal(sigTerm); errors.Is(err, os.ErrProcessDone) {
		return
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		logging.Warn("process ignored termination, killing",
			"session_id", s.ID,
			"pid", s.Pid(),
			"grace", grace.String())
		_ = s.Signal(sigKill)
	}
}

// Summary is the serializable view of a session used by list and status.
type Summary struct {
	ID           string     `json:"id"`
	Scope        string     `json:"scope,omitempty"`
	Status       Status     `json:"status"`
	Pid          int        `json:"pid,omitempty"`
	Command      string     `json:"command"`
	Cwd          string     `json:"cwd"`
	Shell        string     `json:"shell"`
	Login        bool       `json:"login"`
	Pty          bool       `json:"pty"`
	PtyWarning   string     `json:"pty_warning,omitempty"`
	Backgrounded bool       `json:"backgrounded"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	ExitSignal   string     `json:"exit_signal,omitempty"`
	Exit         string     `json:"exit"`
	StdoutBytes  int        `json:"stdout_bytes"`
	StderrBytes  int        `json:"stderr_bytes"`
	Truncated    bool       `json:"truncated"`
}

// Summary snapshots the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		ID:           s.ID,
		Scope:        s.ScopeKey,
		Status:       s.status,
		Pid:          s.pid,
		Command:      s.Command,
		Cwd:          s.Cwd,
		Shell:        s.Shell,
		Login:        s.Login,
		Pty:          s.Pty,
		PtyWarning:   s.PtyWarning,
		Backgrounded: s.Backgrounded,
		StartedAt:    s.CreatedAt,
		ExitCode:     s.exitCode,
		ExitSignal:   s.exitSignal,
		Exit:         s.exitLabelLocked(),
		StdoutBytes:  s.stdout.Bytes(),
		StderrBytes:  s.stderr.Bytes(),
		Truncated:    s.stdout.Truncated() || s.stderr.Truncated(),
	}
	end := time.Now()
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		sum.EndedAt = &ended
		end = ended
	}
	sum.DurationMs = end.Sub(s.CreatedAt).Milliseconds()
	return sum
}

// Outcome snapshots a finished session as a foreground result.
func (s *Session) Outcome() *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	return &Outcome{
		SessionID:       s.ID,
		Status:          s.status,
		ExitCode:        s.exitCode,
		ExitSignal:      s.exitSignal,
		Stdout:          s.stdout.String(),
		Stderr:          s.stderr.String(),
		Output:          s.aggregated.String(),
		StdoutTruncated: s.stdout.Truncated(),
		StderrTruncated: s.stderr.Truncated(),
		TimedOut:        s.status == StatusTimeout,
		Pid:             s.pid,
		Pty:             s.Pty,
		PtyWarning:      s.PtyWarning,
		Duration:        end.Sub(s.CreatedAt),
		Error:           s.waitErr,
	}
}
