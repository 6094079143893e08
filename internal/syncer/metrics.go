package syncer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle triggers.
const (
	TriggerStart  = "start"
	TriggerTick   = "tick"
	TriggerManual = "manual"
)

// Cycle outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomePartial      = "partial"
	OutcomeFailure      = "failure"
	OutcomeUnauthorized = "unauthorized"
	OutcomeDiscarded    = "discarded"
)

// Metrics exposes Prometheus collectors for refresh cycles.
type Metrics struct {
	cycles   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
	failures *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the sync metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

type cycleTracker struct {
	metrics *Metrics
	trigger string
	start   time.Time
}

// track starts timing one refresh cycle.
func (m *Metrics) track(trigger string) *cycleTracker {
	return &cycleTracker{metrics: m, trigger: trigger, start: time.Now()}
}

func (t *cycleTracker) end(outcome string) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.cycles.WithLabelValues(t.trigger, outcome).Inc()
	t.metrics.duration.WithLabelValues(t.trigger).Observe(time.Since(t.start).Seconds())
}

func (m *Metrics) droppedTick() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) resourceFailed(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayne_sync_cycles_total",
		Help: "Refresh cycles partitioned by trigger and outcome.",
	}, []string{"trigger", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wayne_sync_cycle_duration_seconds",
		Help:    "Duration in seconds of refresh cycles.",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wayne_sync_dropped_ticks_total",
		Help: "Scheduled refreshes skipped because a cycle was already in flight.",
	})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wayne_sync_resource_failures_total",
		Help: "Failed resource fetches by resource kind.",
	}, []string{"kind"})
	registerer.MustRegister(cycles, duration, dropped, failures)
	return &Metrics{cycles: cycles, duration: duration, dropped: dropped, failures: failures}
}
