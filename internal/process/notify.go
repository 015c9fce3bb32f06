package process

import (
	"strings"

	"warden/internal/logging"
)

// ExitEvent is delivered once for each opted-in background session.
type ExitEvent struct {
	SessionID string
	ShortID   string
	ScopeKey  string
	Command   string
	Status    Status
	ExitLabel string
	Tail      string
}

// Notifier receives exit events. Delivery is best effort; implementations
// must not block for long.
type Notifier interface {
	NotifyExit(ev ExitEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev ExitEvent)

// NotifyExit calls f.
func (f NotifierFunc) NotifyExit(ev ExitEvent) { f(ev) }

// LogNotifier writes exit events to the structured log.
type LogNotifier struct{}

// NotifyExit logs ev.
func (LogNotifier) NotifyExit(ev ExitEvent) {
	logging.Info("background process exited",
		"session_id", ev.SessionID,
		"scope", ev.ScopeKey,
		"status", string(ev.Status),
		"exit", ev.ExitLabel,
		"tail", ev.Tail)
}

// Message renders the event as one line.
func (ev ExitEvent) Message() string {
	var b strings.Builder
	b.WriteString("Process ")
	b.WriteString(ev.ShortID)
	b.WriteString(" ")
	b.WriteString(string(ev.Status))
	b.WriteString(" (")
	b.WriteString(ev.ExitLabel)
	b.WriteString(")")
	if ev.Tail != "" {
		b.WriteString(": ")
		b.WriteString(ev.Tail)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// compactWhitespace collapses every whitespace run to one space.
func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
