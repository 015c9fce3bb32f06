//go:build !windows

package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRedactor struct{}

func (fakeRedactor) Redact(text string) string {
	return strings.ReplaceAll(text, "hunter2", "[REDACTED]")
}

func startFinished(t *testing.T, l *Launcher, reg *Registry, req Request) *Session {
	t.Helper()
	if req.Cwd == "" {
		req.Cwd = t.TempDir()
	}
	s, err := l.StartBackground(req, reg)
	if err != nil {
		t.Fatalf("StartBackground: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not exit")
	}
	waitFinished(t, reg)
	return s
}

func TestRegistryScope(t *testing.T) {
	l := newTestLauncher(t)
	reg := NewRegistry(RegistryOptions{})

	a := startFinished(t, l, reg, Request{Command: "true", ScopeKey: "agent-a"})
	b := startFinished(t, l, reg, Request{Command: "true", ScopeKey: "agent-b"})

	if got := reg.List(""); len(got) != 2 {
		t.Fatalf("List(\"\") returned %d sessions", len(got))
	}
	got := reg.List("agent-a")
	if len(got) != 1 || got[0] != a {
		t.Fatalf("List(agent-a) = %v", got)
	}

	_, err := reg.Get(b.ID, "agent-a")
	var notFound *SessionNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("Get across scopes = %v, want *SessionNotFound", err)
	}
	if _, err := reg.Get(b.ID, "agent-b"); err != nil {
		t.Fatalf("Get in scope: %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	l := newTestLauncher(t)
	reg := NewRegistry(RegistryOptions{})
	s := startFinished(t, l, reg, Request{Command: "true"})

	if _, err := reg.Remove("missing", ""); err == nil {
		t.Fatal("Remove of unknown id must fail")
	}
	if _, err := reg.Remove(s.ID, ""); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get(s.ID, ""); err == nil {
		t.Fatal("session still present after Remove")
	}
}

func TestRegistryRemoveRunningKills(t *testing.T) {
	l := newTestLauncher(t)
	reg := NewRegistry(RegistryOptions{})
	s, err := l.StartBackground(Request{Command: "sleep 30", Cwd: t.TempDir()}, reg)
	if err != nil {
		t.Fatalf("StartBackground: %v", err)
	}
	if _, err := reg.Remove(s.ID, ""); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("removed session kept running")
	}
	time.Sleep(50 * time.Millisecond)
	if running, finished := reg.Len(); running != 0 || finished != 0 {
		t.Fatalf("Len = %d, %d; removed session came back", running, finished)
	}
}

func TestRegistryTTLEviction(t *testing.T) {
	l := newTestLauncher(t)
	reg := NewRegistry(RegistryOptions{FinishedTTL: time.Minute})
	s := startFinished(t, l, reg, Request{Command: "true"})

	if n := reg.Prune(); n != 0 {
		t.Fatalf("Prune evicted %d fresh sessions", n)
	}
	reg.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if n := reg.Prune(); n != 1 {
		t.Fatalf("Prune evicted %d, want 1", n)
	}
	if _, err := reg.Get(s.ID, ""); err == nil {
		t.Fatal("expired session still readable")
	}
}

func TestRegistryCapEvictsOldest(t *testing.T) {
	l := newTestLauncher(t)
	reg := NewRegistry(RegistryOptions{MaxFinished: 2})

	first := startFinished(t, l, reg, Request{Command: "true"})
	second := startFinished(t, l, reg, Request{Command: "true"})
	third := startFinished(t, l, reg, Request{Command: "true"})

	if _, err := reg.Get(first.ID, ""); err == nil {
		t.Fatal("oldest finished session should have been evicted")
	}
	for _, s := range []*Session{second, third} {
		if _, err := reg.Get(s.ID, ""); err != nil {
			t.Fatalf("Get(%s): %v", s.ID, err)
		}
	}
}

func TestRegistryNotifiesOnExit(t *testing.T) {
	l := newTestLauncher(t)
	events := make(chan ExitEvent, 1)
	reg := NewRegistry(RegistryOptions{
		TailChars: 40,
		Notifier:  NotifierFunc(func(ev ExitEvent) { events <- ev }),
		Redactor:  fakeRedactor{},
	})

	s, err := l.StartBackground(Request{
		Command:      "echo 'password hunter2'; echo;   echo done; exit 4",
		Cwd:          t.TempDir(),
		NotifyOnExit: true,
	}, reg)
	if err != nil {
		t.Fatalf("StartBackground: %v", err)
	}

	select {
	case ev := <-events:
		if ev.SessionID != s.ID || ev.ShortID != s.ID[:8] {
			t.Fatalf("ids = %s / %s", ev.SessionID, ev.ShortID)
		}
		if ev.Status != StatusFailed || ev.ExitLabel != "exit 4" {
			t.Fatalf("status = %s exit = %s", ev.Status, ev.ExitLabel)
		}
		if ev.Tail != "password [REDACTED] done" {
			t.Fatalf("tail = %q", ev.Tail)
		}
		if !strings.HasPrefix(ev.Message(), "Process "+ev.ShortID+" failed (exit 4)") {
			t.Fatalf("message = %q", ev.Message())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no exit event")
	}
}

func TestRegistrySkipsNotificationWhenNotOptedIn(t *testing.T) {
	l := newTestLauncher(t)
	events := make(chan ExitEvent, 1)
	reg := NewRegistry(RegistryOptions{Notifier: NotifierFunc(func(ev ExitEvent) { events <- ev })})
	startFinished(t, l, reg, Request{Command: "true"})

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryRunStopsOnCancel(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRegistryShutdown(t *testing.T) {
	l := newTestLauncher(t)
	reg := NewRegistry(RegistryOptions{})
	s, err := l.StartBackground(Request{Command: "sleep 30", Cwd: t.TempDir()}, reg)
	if err != nil {
		t.Fatalf("StartBackground: %v", err)
	}
	reg.Shutdown(time.Second)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown left the session running")
	}
}
