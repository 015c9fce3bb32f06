package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"warden/internal/logging"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reports settled changes to a fixed set of files.
//
// The parent directories are watched rather than the files themselves so
// that editors which save by rename-and-replace keep being observed.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]struct{}
	debounce  time.Duration

	mu        sync.Mutex
	onChange  FileChangeHandler
	timers    map[string]*time.Timer
	running   bool
	done      chan struct{}
	stopOnce  sync.Once
	eventsCnt atomic.Int64
}

// NewWatcher creates a watcher for files. A disabled config, or no files,
// yields a watcher whose Start and Stop do nothing.
func NewWatcher(files []string, cfg Config) (*Watcher, error) {
	if !cfg.Enabled || len(files) == 0 {
		return &Watcher{}, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := time.Duration(cfg.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			set[filepath.Clean(abs)] = struct{}{}
		}
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		files:     set,
		debounce:  debounce,
		timers:    make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// SetOnFileChange sets the change callback. It runs on a timer goroutine.
func (w *Watcher) SetOnFileChange(handler FileChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = handler
}

// Start begins watching. Calling it twice is harmless.
func (w *Watcher) Start() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	seen := make(map[string]bool)
	for file := range w.files {
		dir := filepath.Dir(file)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := w.fsWatcher.Add(dir); err != nil {
			// A missing config directory is normal; nothing to reload from.
			logging.Debug("watcher: cannot watch directory", "dir", dir, "error", err)
		}
	}

	go w.loop()
	return nil
}

// Stop ends watching and drops changes still inside the debounce window.
func (w *Watcher) Stop() error {
	if w.fsWatcher == nil {
		return nil
	}

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.done) })
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.record(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", "error", err)
		}
	}
}

// record restarts the debounce timer of a watched file. Pure attribute
// changes are ignored.
func (w *Watcher) record(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if _, ok := w.files[path]; !ok || event.Op == fsnotify.Chmod {
		return
	}
	w.eventsCnt.Add(1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() { w.settle(path) })
}

// settle reports path once its events have gone quiet.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	handler := w.onChange
	running := w.running
	w.mu.Unlock()

	if running && handler != nil {
		handler(path, settledOperation(path))
	}
}

func settledOperation(path string) Operation {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return OpDelete
	}
	return OpModify
}

// IsRunning reports whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Stats returns a snapshot of watcher activity.
func (w *Watcher) Stats() Stats {
	return Stats{
		Running:      w.IsRunning(),
		WatchedFiles: len(w.files),
		EventsCount:  w.eventsCnt.Load(),
	}
}
