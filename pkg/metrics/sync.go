package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics tracks sync passes and outbox replay. A nil receiver or one built
// without a registerer records nothing.
type SyncMetrics struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	pushes      *prometheus.CounterVec
	quarantined *prometheus.CounterVec
	pending     prometheus.Gauge
	pulled      *prometheus.CounterVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Sync passes by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of completed sync passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_push_total",
			Help: "Outbox events replayed against the remote store.",
		}, []string{"collection", "action", "result"}),
		quarantined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_quarantined_total",
			Help: "Outbox events moved to the DLQ.",
		}, []string{"reason"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending",
			Help: "Outbox events waiting to be pushed.",
		}),
		pulled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pull_records_total",
			Help: "Records refreshed from the remote store.",
		}, []string{"collection"}),
	}
	reg.MustRegister(m.runs, m.duration, m.pushes, m.quarantined, m.pending, m.pulled)
	return m
}

// ObserveRun records a finished pass. Result is one of ok, failed, skipped_busy
// or skipped_offline.
func (m *SyncMetrics) ObserveRun(result string, duration time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(result)).Inc()
	if duration > 0 {
		m.duration.Observe(duration.Seconds())
	}
}

func (m *SyncMetrics) IncPush(collection, action, result string) {
	if m == nil || m.pushes == nil {
		return
	}
	m.pushes.WithLabelValues(normalizeLabel(collection), normalizeLabel(action), normalizeLabel(result)).Inc()
}

func (m *SyncMetrics) IncQuarantined(reason string) {
	if m == nil || m.quarantined == nil {
		return
	}
	m.quarantined.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *SyncMetrics) SetPending(count int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(count))
}

func (m *SyncMetrics) AddPulled(collection string, count int) {
	if m == nil || m.pulled == nil || count <= 0 {
		return
	}
	m.pulled.WithLabelValues(normalizeLabel(collection)).Add(float64(count))
}
