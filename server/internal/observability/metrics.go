package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "convsync"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeRemapped = "remapped"
	OutcomeApplied  = "applied"
	OutcomeIgnored  = "ignored"
	OutcomeDropped  = "dropped"
)

// Metrics collects reconciler metrics.
type Metrics struct {
	reloads        *prometheus.CounterVec
	reloadDuration prometheus.Histogram
	mutations      *prometheus.CounterVec
	events         *prometheus.CounterVec
	rejected       prometheus.Counter
	storeSize      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Authoritative reloads by result.",
		}, []string{"result"}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reload_duration_seconds",
			Help:      "Duration of authoritative reloads.",
			Buckets:   prometheus.DefBuckets,
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Optimistic mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Push events by type and outcome.",
		}, []string{"type", "outcome"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_records_total",
			Help:      "Backend records rejected by shape validation.",
		}),
		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_conversations",
			Help:      "Conversations currently held in the store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.reloads, m.reloadDuration, m.mutations, m.events, m.rejected, m.storeSize)
	}
	return m
}

// RecordReload records a finished reload.
func (m *Metrics) RecordReload(d time.Duration, err error) {
	result := OutcomeOK
	if err != nil {
		result = OutcomeError
	}
	m.reloads.WithLabelValues(result).Inc()
	m.reloadDuration.Observe(d.Seconds())
}

// RecordMutation records an optimistic mutation outcome.
func (m *Metrics) RecordMutation(op, outcome string) {
	m.mutations.WithLabelValues(op, outcome).Inc()
}

// RecordEvent records a handled push event.
func (m *Metrics) RecordEvent(eventType, outcome string) {
	m.events.WithLabelValues(eventType, outcome).Inc()
}

// RecordRejected adds n rejected backend records.
func (m *Metrics) RecordRejected(n int) {
	m.rejected.Add(float64(n))
}

// SetStoreSize sets the store size gauge.
func (m *Metrics) SetStoreSize(n int) {
	m.storeSize.Set(float64(n))
}
