package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"warden/internal/fileutil"
)

// Redactor scrubs secrets from recorded text.
type Redactor interface {
	Redact(text string) string
}

// Logger keeps the tool calls of one run in memory and mirrors them to
// <dir>/<run id>.json.
type Logger struct {
	dir          string
	runID        string
	maxEntries   int
	maxResultLen int
	retention    time.Duration
	redactor     Redactor
	enabled      bool

	mu      sync.RWMutex
	entries []*Entry

	saveMu sync.Mutex
	wg     sync.WaitGroup // Track pending async saves
}

// Config holds audit logger configuration.
type Config struct {
	Enabled       bool
	MaxEntries    int
	MaxResultLen  int
	RetentionDays int
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxEntries:    10000,
		MaxResultLen:  1000,
		RetentionDays: 30,
	}
}

// NewLogger creates an audit logger writing under dir. A disabled config
// yields a logger that records nothing.
func NewLogger(dir, runID string, cfg Config, redactor Redactor) (*Logger, error) {
	if !cfg.Enabled {
		return &Logger{enabled: false}, nil
	}

	// Owner-only: entries carry commands and their output
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	def := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxResultLen <= 0 {
		cfg.MaxResultLen = def.MaxResultLen
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = def.RetentionDays
	}

	l := &Logger{
		dir:          dir,
		runID:        runID,
		maxEntries:   cfg.MaxEntries,
		maxResultLen: cfg.MaxResultLen,
		retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		redactor:     redactor,
		enabled:      true,
	}

	if err := l.load(); err != nil {
		l.entries = nil
	}

	return l, nil
}

// Enabled reports whether entries are recorded.
func (l *Logger) Enabled() bool { return l.enabled }

// RunID returns the id entries are filed under.
func (l *Logger) RunID() string { return l.runID }

// Log records a completed entry, sanitizing its args and result.
func (l *Logger) Log(entry *Entry) error {
	if !l.enabled || entry == nil {
		return nil
	}

	entry.Args = SanitizeArgs(entry.Args, l.redact)
	entry.Result = TruncateResult(l.redact(entry.Result), l.maxResultLen)
	entry.Error = l.redact(entry.Error)

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	l.mu.Unlock()

	l.saveAsync()
	return nil
}

func (l *Logger) redact(s string) string {
	if l.redactor == nil || s == "" {
		return s
	}
	return l.redactor.Redact(s)
}

// Query retrieves entries matching the filter, oldest first.
func (l *Logger) Query(filter QueryFilter) []*Entry {
	if !l.enabled {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*Entry
	skipped := 0
	for _, entry := range l.entries {
		if !entry.Matches(filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, entry)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

// GetRecent returns the most recent n entries, newest first.
func (l *Logger) GetRecent(n int) []*Entry {
	if !l.enabled || n <= 0 {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	results := make([]*Entry, n)
	for i := 0; i < n; i++ {
		results[i] = l.entries[len(l.entries)-1-i]
	}
	return results
}

// Len returns the number of entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Flush waits for all pending async saves to complete.
func (l *Logger) Flush() {
	l.wg.Wait()
}

// Close flushes pending saves.
func (l *Logger) Close() error {
	l.Flush()
	return nil
}

// Stats holds audit statistics.
type Stats struct {
	TotalEntries  int
	SuccessCount  int
	ErrorCount    int
	AvgDuration   time.Duration
	RunID         string
	Enabled       bool
	ToolBreakdown map[string]int
}

// Stats returns audit statistics. Process calls are broken down by action
// ("process.poll").
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalEntries:  len(l.entries),
		RunID:         l.runID,
		Enabled:       l.enabled,
		ToolBreakdown: make(map[string]int),
	}

	var total time.Duration
	for _, entry := range l.entries {
		key := entry.ToolName
		if entry.Action != "" {
			key += "." + entry.Action
		}
		stats.ToolBreakdown[key]++
		if entry.Success {
			stats.SuccessCount++
		} else {
			stats.ErrorCount++
		}
		total += entry.Duration
	}
	if len(l.entries) > 0 {
		stats.AvgDuration = total / time.Duration(len(l.entries))
	}
	return stats
}

func (l *Logger) filePath() string {
	return filepath.Join(l.dir, l.runID+".json")
}

func (l *Logger) load() error {
	data, err := os.ReadFile(l.filePath())
	if err != nil {
		return err
	}
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}

func (l *Logger) saveAsync() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = l.save()
	}()
}

// save persists a snapshot taken under saveMu, so the last save to finish
// always carries the newest entries.
func (l *Logger) save() error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.RLock()
	data, err := json.MarshalIndent(l.entries, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return err
	}

	return fileutil.AtomicWrite(l.filePath(), data, 0600, 0)
}

// CleanupOldFiles removes run files older than the retention period.
func (l *Logger) CleanupOldFiles() (int, error) {
	if !l.enabled {
		return 0, nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-l.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if strings.TrimSuffix(entry.Name(), ".json") == l.runID {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RunInfo describes a run file on disk.
type RunInfo struct {
	ID        string
	ModTime   time.Time
	Size      int64
	IsCurrent bool
}

// Runs lists the run files in the audit directory, newest first.
func (l *Logger) Runs() ([]RunInfo, error) {
	if !l.enabled {
		return nil, nil
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}

	var runs []RunInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		runs = append(runs, RunInfo{
			ID:        id,
			ModTime:   info.ModTime(),
			Size:      info.Size(),
			IsCurrent: id == l.runID,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ModTime.After(runs[j].ModTime)
	})
	return runs, nil
}
