package process

import "fmt"

// PtyUnavailable is returned when a pseudo-terminal was required but no
// wrapping helper exists on this host.
type PtyUnavailable struct {
	Reason string
}

func (e *PtyUnavailable) Error() string {
	return "pty required but unavailable: " + e.Reason
}

// WorkingDirectoryInvalid is returned when the requested cwd is missing or
// not a directory.
type WorkingDirectoryInvalid struct {
	Path   string
	Reason string
}

func (e *WorkingDirectoryInvalid) Error() string {
	return fmt.Sprintf("invalid working directory %s: %s", e.Path, e.Reason)
}

// SessionNotFound is returned when no session matches the id in scope.
type SessionNotFound struct {
	ID    string
	Scope string
}

func (e *SessionNotFound) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("no session found for %s in scope %s", e.ID, e.Scope)
	}
	return "no session found for " + e.ID
}

// InvalidSignal is returned when kill is asked for a signal outside the
// allowed set.
type InvalidSignal struct {
	Signal string
}

func (e *InvalidSignal) Error() string {
	return fmt.Sprintf("invalid signal %q (allowed: %s)", e.Signal, allowedSignalList())
}

// StdinNotWritable is returned when input cannot be delivered to a session.
type StdinNotWritable struct {
	ID     string
	Reason string
}

func (e *StdinNotWritable) Error() string {
	return fmt.Sprintf("stdin of session %s is not writable: %s", e.ID, e.Reason)
}
