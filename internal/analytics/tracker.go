// Package analytics records console activity in memory and feeds it to the
// threat detector.
package analytics

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/platform/ring"
	"github.com/wayne-enterprises/wayne-console/internal/threat"
)

const (
	DefaultEventCapacity = 1000
	DefaultErrorCapacity = 50
)

// Event names with special meaning.
const (
	EventPageView    = "page_view"
	EventInteraction = "user_interaction"
	EventError       = "error"
)

var securityMarkers = []string{"login", "logout", "access_denied", "permission"}

// Event is one tracked occurrence.
type Event struct {
	Name        string         `json:"name"`
	Properties  map[string]any `json:"properties,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	SessionTime time.Duration  `json:"session_time"`
}

// ErrorEntry is a tracked failure.
type ErrorEntry struct {
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Activity is the input of Track: an event plus the data the threat rules inspect.
type Activity struct {
	Name       string         `json:"name" validate:"required,max=100"`
	Payload    string         `json:"payload,omitempty" validate:"max=4096"`
	SourceKey  string         `json:"source_key,omitempty" validate:"max=255"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Count pairs a key with its frequency.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary describes the current tracking session.
type Summary struct {
	SessionDuration   time.Duration `json:"session_duration"`
	TotalEvents       int           `json:"total_events"`
	TotalPageViews    int           `json:"total_page_views"`
	TotalInteractions int           `json:"total_interactions"`
	TotalErrors       int           `json:"total_errors"`
	TopPages          []Count       `json:"top_pages"`
	TopInteractions   []Count       `json:"top_interactions"`
}

// SecurityReport summarises authentication-related events.
type SecurityReport struct {
	TotalSecurityEvents  int     `json:"total_security_events"`
	LoginAttempts        int     `json:"login_attempts"`
	AccessDeniedEvents   int     `json:"access_denied_events"`
	RecentSecurityEvents []Event `json:"recent_security_events"`
}

// Config tunes a Tracker.
type Config struct {
	EventCapacity int
	ErrorCapacity int
}

// Tracker is a bounded in-memory activity log.
type Tracker struct {
	mu           sync.Mutex
	cfg          Config
	events       *ring.Buffer[Event]
	errors       *ring.Buffer[ErrorEntry]
	pageViews    map[string]int
	interactions map[string]int
	sessionStart time.Time
	detector     *threat.Detector
	notifier     notify.Pusher
	logger       *slog.Logger
	clock        func() time.Time
}

// NewTracker constructs a Tracker. The detector and notifier may be nil.
func NewTracker(cfg Config, detector *threat.Detector, notifier notify.Pusher, logger *slog.Logger) *Tracker {
	if cfg.EventCapacity <= 0 {
		cfg.EventCapacity = DefaultEventCapacity
	}
	if cfg.ErrorCapacity <= 0 {
		cfg.ErrorCapacity = DefaultErrorCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		cfg:      cfg,
		detector: detector,
		notifier: notifier,
		logger:   logger,
		clock:    time.Now,
	}
	t.resetLocked()
	return t
}

func (t *Tracker) resetLocked() {
	t.events = ring.New[Event](t.cfg.EventCapacity)
	t.errors = ring.New[ErrorEntry](t.cfg.ErrorCapacity)
	t.pageViews = make(map[string]int)
	t.interactions = make(map[string]int)
	t.sessionStart = t.clock()
}

// Track records an activity and runs it through the threat detector. A
// flagged activity is surfaced as a warning notification.
func (t *Tracker) Track(a Activity) (Event, *threat.Record) {
	ev := t.record(a.Name, a.Properties)
	if t.detector == nil {
		return ev, nil
	}
	rec := t.detector.Evaluate(threat.Activity{Kind: a.Name, Payload: a.Payload, SourceKey: a.SourceKey})
	if rec != nil {
		t.logger.Warn("suspicious activity",
			slog.String("event", a.Name),
			slog.String("source", a.SourceKey),
			slog.String("risk", string(rec.RiskLevel)),
			slog.Any("reasons", rec.Reasons))
		if t.notifier != nil {
			t.notifier.Push("Suspicious activity detected: "+strings.Join(rec.Reasons, ", "), notify.KindWarning, 0)
		}
	}
	return ev, rec
}

// TrackEvent records a plain event without threat evaluation.
func (t *Tracker) TrackEvent(name string, props map[string]any) Event {
	return t.record(name, props)
}

// TrackPageView counts a page view.
func (t *Tracker) TrackPageView(page string) Event {
	t.mu.Lock()
	t.pageViews[page]++
	total := t.pageViews[page]
	t.mu.Unlock()
	return t.record(EventPageView, map[string]any{"page": page, "total_views": total})
}

// TrackInteraction counts a UI interaction.
func (t *Tracker) TrackInteraction(elementType, action string, details map[string]any) Event {
	key := elementType + "_" + action
	t.mu.Lock()
	t.interactions[key]++
	count := t.interactions[key]
	t.mu.Unlock()
	return t.record(EventInteraction, map[string]any{
		"element_type": elementType,
		"action":       action,
		"count":        count,
		"details":      details,
	})
}

// TrackError records a failure in the bounded error log.
func (t *Tracker) TrackError(err error, details map[string]any) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.errors.Push(ErrorEntry{Message: err.Error(), Context: details, Timestamp: t.clock()})
	t.mu.Unlock()
	t.record(EventError, map[string]any{"error_message": err.Error(), "context": details})
}

func (t *Tracker) record(name string, props map[string]any) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	ev := Event{
		Name:        name,
		Properties:  maps.Clone(props),
		Timestamp:   now,
		SessionTime: now.Sub(t.sessionStart),
	}
	t.events.Push(ev)
	return ev
}

// Events returns up to n of the most recent events, oldest first. n <= 0 returns all.
func (t *Tracker) Events(n int) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events.Last(n)
}

// Errors returns the tracked errors, oldest first.
func (t *Tracker) Errors() []ErrorEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors.Items()
}

// Summary describes the tracking session so far.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		SessionDuration:   t.clock().Sub(t.sessionStart).Truncate(time.Second),
		TotalEvents:       t.events.Len(),
		TotalPageViews:    sum(t.pageViews),
		TotalInteractions: sum(t.interactions),
		TotalErrors:       t.errors.Len(),
		TopPages:          top(t.pageViews, 5),
		TopInteractions:   top(t.interactions, 5),
	}
}

// SecurityReport filters login, logout, access-denied and permission events.
func (t *Tracker) SecurityReport() SecurityReport {
	t.mu.Lock()
	items := t.events.Items()
	t.mu.Unlock()

	var report SecurityReport
	var security []Event
	for _, ev := range items {
		if !isSecurityEvent(ev.Name) {
			continue
		}
		security = append(security, ev)
		if strings.Contains(ev.Name, "login") {
			report.LoginAttempts++
		}
		if strings.Contains(ev.Name, "access_denied") {
			report.AccessDeniedEvents++
		}
	}
	report.TotalSecurityEvents = len(security)
	if len(security) > 10 {
		security = security[len(security)-10:]
	}
	report.RecentSecurityEvents = security
	return report
}

// Reset clears every log and restarts the session clock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func isSecurityEvent(name string) bool {
	for _, marker := range securityMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

func top(m map[string]int, limit int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
