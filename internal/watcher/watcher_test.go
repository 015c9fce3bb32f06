package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type change struct {
	path string
	op   Operation
}

func startWatcher(t *testing.T, file string) (*Watcher, <-chan change) {
	t.Helper()
	w, err := NewWatcher([]string{file}, Config{Enabled: true, DebounceMs: 50})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	changes := make(chan change, 16)
	w.SetOnFileChange(func(path string, op Operation) {
		changes <- change{path, op}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w, changes
}

func waitChange(t *testing.T, changes <-chan change) change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no change observed")
		return change{}
	}
}

func TestWatcherReportsModifyAndDelete(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(file, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	w, changes := startWatcher(t, file)

	if err := os.WriteFile(file, []byte("a: 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := waitChange(t, changes)
	if filepath.Base(c.path) != "config.yaml" || c.op != OpModify {
		t.Fatalf("got %+v, want modify of config.yaml", c)
	}

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	if c := waitChange(t, changes); c.op != OpDelete {
		t.Fatalf("got %v, want delete", c.op)
	}

	stats := w.Stats()
	if !stats.Running || stats.WatchedFiles != 1 || stats.EventsCount < 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	_, changes := startWatcher(t, file)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(file, []byte("a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if c := waitChange(t, changes); filepath.Base(c.path) != "config.yaml" {
		t.Fatalf("sibling change reported: %+v", c)
	}
}

func TestWatcherDisabled(t *testing.T) {
	w, err := NewWatcher([]string{"/nonexistent/config.yaml"}, Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start on disabled watcher: %v", err)
	}
	if w.IsRunning() {
		t.Fatal("disabled watcher reports running")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop on disabled watcher: %v", err)
	}
}

func TestOperationString(t *testing.T) {
	if OpModify.String() != "modify" || OpDelete.String() != "delete" || Operation(0).String() != "unknown" {
		t.Fatal("unexpected Operation strings")
	}
}
