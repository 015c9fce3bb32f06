package process

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/logging"
)

const (
	// DefaultFinishedTTL is how long an exited session stays readable.
	DefaultFinishedTTL = 30 * time.Minute
	// DefaultMaxFinished caps the recently-finished set.
	DefaultMaxFinished = 64
	// DefaultTailChars bounds the output tail attached to exit events.
	DefaultTailChars = 400
	// DefaultCleanupInterval is the janitor period.
	DefaultCleanupInterval = time.Minute
)

func newSessionID() string {
	return uuid.NewString()
}

// Redactor masks secrets in text handed to notifiers.
type Redactor interface {
	Redact(text string) string
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	FinishedTTL time.Duration
	MaxFinished int
	TailChars   int
	Notifier    Notifier
	Redactor    Redactor
}

// Registry tracks background sessions: running ones until they exit, then
// finished ones until they age out or are cleared.
type Registry struct {
	mu       sync.Mutex
	running  map[string]*Session
	finished map[string]*Session

	ttl         time.Duration
	maxFinished int
	tailChars   int
	notifier    Notifier
	redactor    Redactor

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		running:     make(map[string]*Session),
		finished:    make(map[string]*Session),
		ttl:         opts.FinishedTTL,
		maxFinished: opts.MaxFinished,
		tailChars:   opts.TailChars,
		notifier:    opts.Notifier,
		redactor:    opts.Redactor,
		now:         time.Now,
	}
	if r.ttl <= 0 {
		r.ttl = DefaultFinishedTTL
	}
	if r.maxFinished <= 0 {
		r.maxFinished = DefaultMaxFinished
	}
	if r.tailChars <= 0 {
		r.tailChars = DefaultTailChars
	}
	return r
}

// Add registers a started session and tracks its exit.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.running[s.ID] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.markExited(s)
	}()
}

func (r *Registry) markExited(s *Session) {
	r.mu.Lock()
	if _, ok := r.running[s.ID]; !ok {
		// Cleared while running.
		r.mu.Unlock()
		return
	}
	delete(r.running, s.ID)
	r.finished[s.ID] = s
	r.pruneLocked()
	r.mu.Unlock()

	if s.NotifyOnExit && r.notifier != nil {
		r.notifier.NotifyExit(r.exitEvent(s))
	}
}

func (r *Registry) exitEvent(s *Session) ExitEvent {
	tail := compactWhitespace(tailChars(s.Output(), r.tailChars*2))
	tail = tailChars(tail, r.tailChars)
	if r.redactor != nil {
		tail = r.redactor.Redact(tail)
	}
	return ExitEvent{
		SessionID: s.ID,
		ShortID:   shortID(s.ID),
		ScopeKey:  s.ScopeKey,
		Command:   s.Command,
		Status:    s.Status(),
		ExitLabel: s.ExitLabel(),
		Tail:      tail,
	}
}

// Get returns the session with id. A non-empty scope must match the
// session's scope key exactly.
func (r *Registry) Get(id, scope string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()

	s, ok := r.running[id]
	if !ok {
		s, ok = r.finished[id]
	}
	if !ok || !inScope(s, scope) {
		return nil, &SessionNotFound{ID: id, Scope: scope}
	}
	return s, nil
}

// List returns the sessions in scope, oldest first.
func (r *Registry) List(scope string) []*Session {
	r.mu.Lock()
	r.pruneLocked()
	out := make([]*Session, 0, len(r.running)+len(r.finished))
	for _, s := range r.running {
		if inScope(s, scope) {
			out = append(out, s)
		}
	}
	for _, s := range r.finished {
		if inScope(s, scope) {
			out = append(out, s)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Remove drops the entry for id. A session that is still running loses its
// entry and is killed, so nothing is left unreachable.
func (r *Registry) Remove(id, scope string) (*Session, error) {
	r.mu.Lock()
	s, running := r.running[id]
	if !running {
		s = r.finished[id]
	}
	if s == nil || !inScope(s, scope) {
		r.mu.Unlock()
		return nil, &SessionNotFound{ID: id, Scope: scope}
	}
	delete(r.running, id)
	delete(r.finished, id)
	r.mu.Unlock()

	if running {
		if err := s.Signal(sigKill); err == nil {
			logging.Info("removed running session, killed", "session_id", id, "pid", s.Pid())
		}
	}
	return s, nil
}

// Len returns the running and finished counts.
func (r *Registry) Len() (running, finished int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running), len(r.finished)
}

// Prune evicts expired finished sessions and returns how many were dropped.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pruneLocked()
}

// pruneLocked drops finished sessions older than the TTL, then the oldest
// ones beyond the cap.
func (r *Registry) pruneLocked() int {
	if len(r.finished) == 0 {
		return 0
	}
	now := r.now()
	type entry struct {
		id    string
		ended time.Time
	}
	entries := make([]entry, 0, len(r.finished))
	removed := 0
	for id, s := range r.finished {
		ended := s.EndedAt()
		if now.Sub(ended) > r.ttl {
			delete(r.finished, id)
			removed++
			continue
		}
		entries = append(entries, entry{id: id, ended: ended})
	}

	if excess := len(entries) - r.maxFinished; excess > 0 {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ended.Before(entries[j].ended) })
		for _, e := range entries[:excess] {
			delete(r.finished, e.id)
			removed++
		}
	}
	if removed > 0 {
		logging.Debug("evicted finished sessions", "count", removed, "remaining", len(r.finished))
	}
	return removed
}

// Run sweeps finished sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}

// Shutdown kills every running session and waits up to grace for them to exit.
func (r *Registry) Shutdown(grace time.Duration) {
	r.mu.Lock()
	running := make([]*Session, 0, len(r.running))
	for _, s := range r.running {
		running = append(running, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range running {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.terminate(grace)
		}(s)
	}
	wg.Wait()
}

func inScope(s *Session, scope string) bool {
	return scope == "" || s.ScopeKey == scope
}
