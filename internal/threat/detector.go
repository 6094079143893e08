// Package threat annotates user activity with a best-effort risk level.
package threat

import (
	"cmp"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/wayne-enterprises/wayne-console/internal/platform/ring"
)

// RiskLevel grades a record.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Reasons attached to records.
const (
	ReasonRepeatedAuth    = "repeated authentication attempts"
	ReasonInjection       = "possible injection pattern"
	ReasonScriptInjection = "possible script injection"
)

const (
	DefaultCapacity    = 1000
	DefaultWindow      = time.Hour
	DefaultMaxAttempts = 10
	unknownSource      = "unknown"
	maxTrackedSources  = 1024
)

var (
	authKind      = regexp.MustCompile(`(?i)password|login|auth`)
	injectionLike = regexp.MustCompile(`(?i)'|;|--|/\*|\b(select|union|insert|delete|update|drop|create|alter|exec|execute)\b`)
	scriptLike    = regexp.MustCompile(`(?i)<script|javascript:|on(error|load|click)\s*=`)
)

// Activity is one observed user action.
type Activity struct {
	Kind      string `json:"kind"`
	Payload   string `json:"payload"`
	SourceKey string `json:"source_key"`
}

// Record is an immutable flagged activity.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Activity  Activity  `json:"activity"`
	RiskLevel RiskLevel `json:"risk_level"`
	Reasons   []string  `json:"reasons"`
}

// ReasonCount is a reason with its frequency.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Summary aggregates the stored records.
type Summary struct {
	Total       int               `json:"total"`
	Last24h     int               `json:"last_24h"`
	ByRiskLevel map[RiskLevel]int `json:"by_risk_level"`
	TopThreats  []ReasonCount     `json:"top_threats"`
}

// Config tunes a Detector.
type Config struct {
	Capacity    int
	Window      time.Duration
	MaxAttempts int
}

// Detector evaluates activities against a fixed rule set.
type Detector struct {
	mu       sync.Mutex
	cfg      Config
	records  *ring.Buffer[Record]
	attempts map[string][]time.Time
	clock    func() time.Time
}

// NewDetector constructs a Detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Detector{
		cfg:      cfg,
		records:  ring.New[Record](cfg.Capacity),
		attempts: make(map[string][]time.Time),
		clock:    time.Now,
	}
}

// Evaluate applies every rule to a. It returns nil when nothing matched;
// otherwise the stored record.
func (d *Detector) Evaluate(a Activity) *Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	var reasons []string

	if authKind.MatchString(a.Kind) && d.countAttemptLocked(a.SourceKey, now) > d.cfg.MaxAttempts {
		reasons = append(reasons, ReasonRepeatedAuth)
	}
	if a.Payload != "" && injectionLike.MatchString(a.Payload) {
		reasons = append(reasons, ReasonInjection)
	}
	if a.Payload != "" && scriptLike.MatchString(a.Payload) {
		reasons = append(reasons, ReasonScriptInjection)
	}
	if len(reasons) == 0 {
		return nil
	}

	rec := Record{Timestamp: now, Activity: a, RiskLevel: RiskHigh, Reasons: reasons}
	d.records.Push(rec)
	out := rec
	out.Reasons = slices.Clone(reasons)
	return &out
}

// countAttemptLocked records an attempt for source and returns how many fall
// inside the window.
func (d *Detector) countAttemptLocked(source string, now time.Time) int {
	if source == "" {
		source = unknownSource
	}
	if _, ok := d.attempts[source]; !ok && len(d.attempts) >= maxTrackedSources {
		d.pruneLocked(now)
	}
	recent := inWindow(d.attempts[source], now, d.cfg.Window)
	recent = append(recent, now)
	d.attempts[source] = recent
	return len(recent)
}

func (d *Detector) pruneLocked(now time.Time) {
	for key, times := range d.attempts {
		if kept := inWindow(times, now, d.cfg.Window); len(kept) == 0 {
			delete(d.attempts, key)
		} else {
			d.attempts[key] = kept
		}
	}
}

func inWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}

// Records returns stored records, oldest first. An empty level returns all.
func (d *Detector) Records(level RiskLevel) []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := d.records.Items()
	out := items[:0]
	for _, r := range items {
		if level == "" || level == "all" || r.RiskLevel == level {
			r.Reasons = slices.Clone(r.Reasons)
			out = append(out, r)
		}
	}
	return out
}

// Summary aggregates stored records.
func (d *Detector) Summary() Summary {
	d.mu.Lock()
	items := d.records.Items()
	now := d.clock()
	d.mu.Unlock()

	s := Summary{
		Total:       len(items),
		ByRiskLevel: map[RiskLevel]int{RiskHigh: 0, RiskMedium: 0, RiskLow: 0},
	}
	counts := map[string]int{}
	for _, r := range items {
		if now.Sub(r.Timestamp) < 24*time.Hour {
			s.Last24h++
		}
		s.ByRiskLevel[r.RiskLevel]++
		for _, reason := range r.Reasons {
			counts[reason]++
		}
	}
	for reason, n := range counts {
		s.TopThreats = append(s.TopThreats, ReasonCount{Reason: reason, Count: n})
	}
	slices.SortFunc(s.TopThreats, func(a, b ReasonCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Reason, b.Reason)
	})
	if len(s.TopThreats) > 5 {
		s.TopThreats = s.TopThreats[:5]
	}
	return s
}

// Reset drops every record and attempt window.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records.Reset()
	d.attempts = make(map[string][]time.Time)
}
