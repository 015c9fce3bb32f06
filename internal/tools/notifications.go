package tools

import (
	"sync"

	"warden/internal/process"
)

// DefaultMaxPendingNotifications bounds the exit events held for pickup.
const DefaultMaxPendingNotifications = 100

// NotificationQueue holds background exit events until the caller that owns
// their scope picks them up, typically at the start of its next turn.
type NotificationQueue struct {
	mu         sync.Mutex
	pending    []process.ExitEvent
	maxPending int
	onNotify   func(process.ExitEvent)
}

// NewNotificationQueue creates a queue keeping at most maxPending events;
// the oldest are dropped first.
func NewNotificationQueue(maxPending int) *NotificationQueue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPendingNotifications
	}
	return &NotificationQueue{maxPending: maxPending}
}

// SetOnNotify sets a callback run for every queued event.
func (q *NotificationQueue) SetOnNotify(fn func(process.ExitEvent)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onNotify = fn
}

// NotifyExit implements process.Notifier.
func (q *NotificationQueue) NotifyExit(ev process.ExitEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	if len(q.pending) > q.maxPending {
		q.pending = q.pending[len(q.pending)-q.maxPending:]
	}
	cb := q.onNotify
	q.mu.Unlock()

	if cb != nil {
		cb(ev)
	}
}

// Drain removes and returns the pending events for scope, oldest first. An
// empty scope drains everything.
func (q *NotificationQueue) Drain(scope string) []process.ExitEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []process.ExitEvent
	kept := q.pending[:0]
	for _, ev := range q.pending {
		if scope == "" || ev.ScopeKey == scope {
			out = append(out, ev)
		} else {
			kept = append(kept, ev)
		}
	}
	q.pending = kept
	return out
}

// Len returns the number of pending events.
func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
