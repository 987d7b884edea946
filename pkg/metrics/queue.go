package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics records job queue activity. A nil receiver is safe so worker
// code can run without a registry in tests.
type QueueMetrics struct {
	duration     *prometheus.HistogramVec
	processed    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
}

// NewQueueMetrics registers the queue metrics on the provided registerer.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_handler_duration_seconds",
		Help:    "Duration of job handler executions in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_processed_total",
		Help: "Jobs acknowledged as completed.",
	}, []string{"job"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_retried_total",
		Help: "Jobs rescheduled after a transient handler failure.",
	}, []string{"job"})
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_dead_lettered_total",
		Help: "Jobs moved to the failed set.",
	}, []string{"job"})
	reg.MustRegister(duration, processed, retried, deadLettered)
	return &QueueMetrics{
		duration:     duration,
		processed:    processed,
		retried:      retried,
		deadLettered: deadLettered,
	}
}

// ObserveDuration records the handler duration for the named job.
func (q *QueueMetrics) ObserveDuration(job string, duration time.Duration) {
	if q == nil || q.duration == nil {
		return
	}
	q.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncProcessed increments the completed counter for the named job.
func (q *QueueMetrics) IncProcessed(job string) {
	if q == nil || q.processed == nil {
		return
	}
	q.processed.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncRetried increments the retry counter for the named job.
func (q *QueueMetrics) IncRetried(job string) {
	if q == nil || q.retried == nil {
		return
	}
	q.retried.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncDeadLettered increments the dead-letter counter for the named job.
func (q *QueueMetrics) IncDeadLettered(job string) {
	if q == nil || q.deadLettered == nil {
		return
	}
	q.deadLettered.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
