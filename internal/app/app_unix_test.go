//go:build !windows

package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"warden/internal/audit"
	"warden/internal/config"
	"warden/internal/process"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []process.ExitEvent
}

func (n *recordingNotifier) NotifyExit(ev process.ExitEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type appFixture struct {
	app     *App
	cfgPath string
	root    string
	work    string
}

func writeConfig(t *testing.T, path, root string, enabled bool) {
	t.Helper()
	data := "exec:\n  shell: /bin/sh\n  default_timeout: 10s\n" +
		"self_protection:\n  enabled: " + map[bool]string{true: "true", false: "false"}[enabled] + "\n" +
		"  install_root: " + root + "\n" +
		"watcher:\n  enabled: true\n  debounce_ms: 20\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newAppFixture(t *testing.T, notifier process.Notifier) appFixture {
	t.Helper()
	for _, k := range []string{"WARDEN_SHELL", "WARDEN_HOST", "WARDEN_INSTALL_ROOT", "WARDEN_LOG_LEVEL", "WARDEN_SELF_PROTECTION"} {
		t.Setenv(k, "")
	}

	base := t.TempDir()
	root := filepath.Join(base, "install")
	work := filepath.Join(base, "work")
	for _, d := range []string{filepath.Join(root, "bin"), work} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfgPath := filepath.Join(base, "config.yaml")
	writeConfig(t, cfgPath, root, true)

	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	b := NewBuilder(cfg, work)
	if notifier != nil {
		b.WithNotifier(notifier)
	}
	a, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return appFixture{app: a, cfgPath: cfgPath, root: root, work: work}
}

func TestBuildRegistersTools(t *testing.T) {
	f := newAppFixture(t, nil)
	names := f.app.Tools().Names()
	if strings.Join(names, ",") != "exec,process" {
		t.Fatalf("tools = %v", names)
	}
	if len(f.app.Tools().Declarations()) != 2 {
		t.Fatal("missing declarations")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Exec.Host = "elsewhere"
	_, err := NewBuilder(cfg, t.TempDir()).Build()
	if CodeOf(err) != ErrCodeConfig {
		t.Fatalf("Build() = %v, want config error", err)
	}
	if !errors.Is(err, config.ErrInvalidHost) {
		t.Fatalf("error chain lost the cause: %v", err)
	}
}

func TestExecuteRunsInWorkDir(t *testing.T) {
	f := newAppFixture(t, nil)
	res := f.app.Execute(context.Background(), "exec", map[string]any{"command": "pwd"})
	if !res.Success {
		t.Fatalf("exec failed: %s", res.Error)
	}
	want, _ := filepath.EvalSymlinks(f.work)
	if got := strings.TrimSpace(res.Content); got != f.work && got != want {
		t.Fatalf("pwd = %q, want %q", got, f.work)
	}
}

func TestGuardBlocksInstallRoot(t *testing.T) {
	f := newAppFixture(t, nil)
	res := f.app.Execute(context.Background(), "exec", map[string]any{
		"command": "rm -rf " + filepath.Join(f.root, "bin"),
	})
	if res.Success || !strings.Contains(res.Error, "blocked") {
		t.Fatalf("result = %+v, want a blocked command", res)
	}
	if _, err := os.Stat(filepath.Join(f.root, "bin")); err != nil {
		t.Fatalf("protected directory touched: %v", err)
	}
}

func TestReloadPolicy(t *testing.T) {
	f := newAppFixture(t, nil)
	if !f.app.Guard().Policy().Enabled {
		t.Fatal("policy should start enabled")
	}

	writeConfig(t, f.cfgPath, f.root, false)
	if err := f.app.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}
	if f.app.Guard().Policy().Enabled {
		t.Fatal("reloaded policy still enabled")
	}
	if f.app.Config().SelfProtection.Enabled {
		t.Fatal("config not updated")
	}
}

func TestConfigWatchReloadsPolicy(t *testing.T) {
	f := newAppFixture(t, nil)
	writeConfig(t, f.cfgPath, f.root, false)

	deadline := time.Now().Add(5 * time.Second)
	for f.app.Guard().Policy().Enabled {
		if time.Now().After(deadline) {
			t.Fatal("watcher did not reload the policy")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReloadKeepsPolicyOnBadConfig(t *testing.T) {
	f := newAppFixture(t, nil)
	if err := os.WriteFile(f.cfgPath, []byte("exec:\n  host: nowhere\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := f.app.ReloadPolicy(); CodeOf(err) != ErrCodeConfig {
		t.Fatalf("ReloadPolicy() = %v, want config error", err)
	}
	if !f.app.Guard().Policy().Enabled {
		t.Fatal("policy changed after a failed reload")
	}
}

func TestBackgroundNotificationAndShutdown(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newAppFixture(t, notifier)

	res := f.app.Execute(context.Background(), "exec", map[string]any{
		"command":        "echo done",
		"background":     true,
		"notify_on_exit": true,
	})
	if !res.Success {
		t.Fatalf("background exec failed: %s", res.Error)
	}
	deadline := time.Now().Add(5 * time.Second)
	for notifier.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no exit notification")
		}
		time.Sleep(20 * time.Millisecond)
	}

	res = f.app.Execute(context.Background(), "exec", map[string]any{
		"command":    "sleep 30",
		"background": true,
	})
	if !res.Success {
		t.Fatalf("background exec failed: %s", res.Error)
	}
	start := time.Now()
	f.app.Shutdown()
	if time.Since(start) > 5*time.Second {
		t.Fatal("shutdown waited on the sleeping session")
	}
	deadline = time.Now().Add(5 * time.Second)
	for {
		running, _ := f.app.Sessions().Len()
		if running == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d sessions still running after shutdown", running)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if f.app.Context().Err() == nil {
		t.Fatal("context not cancelled")
	}
}

func TestExecuteWritesAuditTrail(t *testing.T) {
	f := newAppFixture(t, nil)
	if !f.app.Audit().Enabled() {
		t.Fatal("audit trail disabled by default")
	}

	f.app.Execute(context.Background(), "exec", map[string]any{"command": "echo password=hunter2hunter2"})
	res := f.app.Execute(context.Background(), "exec", map[string]any{"command": "sleep 5", "background": true})
	data, _ := res.Data.(map[string]any)
	sessionID, _ := data["session_id"].(string)
	f.app.Execute(context.Background(), "process", map[string]any{"action": "kill", "session_id": sessionID})

	entries := f.app.Audit().Query(audit.QueryFilter{})
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	if cmd := entries[0].Args["command"].(string); strings.Contains(cmd, "hunter2hunter2") {
		t.Fatalf("secret recorded in audit args: %q", cmd)
	}
	if strings.Contains(entries[0].Result, "hunter2hunter2") {
		t.Fatalf("secret recorded in audit result: %q", entries[0].Result)
	}
	if entries[1].SessionID != sessionID || entries[2].SessionID != sessionID || entries[2].Action != "kill" {
		t.Fatalf("session ids not linked: %+v %+v", entries[1], entries[2])
	}

	f.app.Audit().Flush()
	runFile := filepath.Join(filepath.Dir(f.cfgPath), "audit", f.app.Audit().RunID()+".json")
	if _, err := os.Stat(runFile); err != nil {
		t.Fatalf("audit run file: %v", err)
	}
}

func TestDefaultNotifierQueuesByScope(t *testing.T) {
	f := newAppFixture(t, nil)
	res := f.app.Execute(context.Background(), "exec", map[string]any{
		"command":        "echo finished",
		"background":     true,
		"notify_on_exit": true,
		"scope":          "agent-1",
	})
	if !res.Success {
		t.Fatalf("background exec failed: %s", res.Error)
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.app.Notifications().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("exit event not queued")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := f.app.Notifications().Drain("agent-2"); len(got) != 0 {
		t.Fatalf("other scope drained %+v", got)
	}
	got := f.app.Notifications().Drain("agent-1")
	if len(got) != 1 || got[0].Status != process.StatusCompleted || !strings.Contains(got[0].Tail, "finished") {
		t.Fatalf("events = %+v", got)
	}
}
