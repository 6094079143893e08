// Package notify holds short-lived, user-facing status messages that expire on their own.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification for display.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// DefaultDuration is used when Push receives a non-positive duration.
const DefaultDuration = 5 * time.Second

// Notification is a single queued message.
type Notification struct {
	ID           string        `json:"id"`
	Message      string        `json:"message"`
	Kind         Kind          `json:"kind"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAfter time.Duration `json:"expires_after"`
}

// Pusher is the producer side of the queue.
type Pusher interface {
	Push(message string, kind Kind, duration time.Duration) string
}

// Config tunes a Queue.
type Config struct {
	DefaultDuration time.Duration
	// MaxEntries caps the queue; the oldest entry is dismissed on overflow. Zero means no cap.
	MaxEntries int
}

type entry struct {
	note  Notification
	timer *time.Timer
}

// Queue keeps notifications until they expire or are dismissed.
type Queue struct {
	mu          sync.Mutex
	cfg         Config
	order       []string
	entries     map[string]*entry
	subscribers map[int]func([]Notification)
	nextSub     int
	clock       func() time.Time
}

// NewQueue constructs a Queue.
func NewQueue(cfg Config) *Queue {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultDuration
	}
	return &Queue{
		cfg:         cfg,
		entries:     make(map[string]*entry),
		subscribers: make(map[int]func([]Notification)),
		clock:       time.Now,
	}
}

// Push queues a message and arms its expiry timer. It returns the notification ID.
func (q *Queue) Push(message string, kind Kind, duration time.Duration) string {
	if duration <= 0 {
		duration = q.cfg.DefaultDuration
	}
	if kind == "" {
		kind = KindInfo
	}
	id := uuid.NewString()

	q.mu.Lock()
	e := &entry{note: Notification{
		ID:           id,
		Message:      message,
		Kind:         kind,
		CreatedAt:    q.clock(),
		ExpiresAfter: duration,
	}}
	e.timer = time.AfterFunc(duration, func() { q.expire(id, e) })
	q.entries[id] = e
	q.order = append(q.order, id)
	if q.cfg.MaxEntries > 0 {
		for len(q.order) > q.cfg.MaxEntries {
			q.removeLocked(q.order[0])
		}
	}
	snapshot, subs := q.snapshotLocked()
	q.mu.Unlock()

	publish(subs, snapshot)
	return id
}

// Dismiss removes a notification. Unknown or already expired IDs are ignored.
func (q *Queue) Dismiss(id string) {
	q.mu.Lock()
	if !q.removeLocked(id) {
		q.mu.Unlock()
		return
	}
	snapshot, subs := q.snapshotLocked()
	q.mu.Unlock()
	publish(subs, snapshot)
}

// Clear stops every pending timer and empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return
	}
	for _, e := range q.entries {
		e.timer.Stop()
	}
	q.entries = make(map[string]*entry)
	q.order = nil
	snapshot, subs := q.snapshotLocked()
	q.mu.Unlock()
	publish(subs, snapshot)
}

// List returns the queued notifications, oldest first.
func (q *Queue) List() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out, _ := q.snapshotLocked()
	return out
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Subscribe registers fn to receive the queue contents after every change.
func (q *Queue) Subscribe(fn func([]Notification)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.subscribers, id)
		q.mu.Unlock()
	}
}

// expire fires from the entry's timer. A stale timer whose entry was already
// removed, or replaced after Clear, does nothing.
func (q *Queue) expire(id string, e *entry) {
	q.mu.Lock()
	if current, ok := q.entries[id]; !ok || current != e {
		q.mu.Unlock()
		return
	}
	q.removeLocked(id)
	snapshot, subs := q.snapshotLocked()
	q.mu.Unlock()
	publish(subs, snapshot)
}

func (q *Queue) removeLocked(id string) bool {
	e, ok := q.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(q.entries, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

func (q *Queue) snapshotLocked() ([]Notification, []func([]Notification)) {
	out := make([]Notification, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id].note)
	}
	subs := make([]func([]Notification), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		subs = append(subs, fn)
	}
	return out, subs
}

func publish(subs []func([]Notification), snapshot []Notification) {
	for _, fn := range subs {
		fn(snapshot)
	}
}
