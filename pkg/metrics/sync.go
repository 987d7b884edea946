package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records full-sync cycle outcomes.
type SyncMetrics struct {
	duration prometheus.Histogram
	enqueued *prometheus.CounterVec
	failures prometheus.Counter
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "erp_sync_cycle_duration_seconds",
		Help:    "Duration of full ERP sync cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	enqueued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_sync_jobs_enqueued_total",
		Help: "Jobs enqueued by sync cycles, by stage.",
	}, []string{"stage"})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "erp_sync_cycle_failures_total",
		Help: "Sync cycles aborted by a feed fetch failure.",
	})
	reg.MustRegister(duration, enqueued, failures)
	return &SyncMetrics{duration: duration, enqueued: enqueued, failures: failures}
}

// ObserveCycle records the duration of a completed sync cycle.
func (s *SyncMetrics) ObserveCycle(duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.Observe(duration.Seconds())
}

// AddEnqueued counts jobs enqueued for one stage of a cycle.
func (s *SyncMetrics) AddEnqueued(stage string, count int) {
	if s == nil || s.enqueued == nil {
		return
	}
	s.enqueued.WithLabelValues(normalizeLabel(stage)).Add(float64(count))
}

// IncFailure counts an aborted sync cycle.
func (s *SyncMetrics) IncFailure() {
	if s == nil || s.failures == nil {
		return
	}
	s.failures.Inc()
}
