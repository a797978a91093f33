package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records batch outcomes for the background workers.
type WorkerMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewWorkerMetrics registers the worker metrics on the provided registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_batch_duration_seconds",
		Help:      "Duration of worker batches in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"worker"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_items_processed_total",
		Help:      "Items a worker handled successfully.",
	}, []string{"worker"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_items_failed_total",
		Help:      "Items a worker failed to handle.",
	}, []string{"worker"})
	reg.MustRegister(duration, success, failure)
	return &WorkerMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

func (m *WorkerMetrics) ObserveBatch(worker string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(worker)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) AddSuccess(worker string, n int) {
	if m == nil || m.success == nil || n <= 0 {
		return
	}
	m.success.WithLabelValues(normalizeLabel(worker)).Add(float64(n))
}

func (m *WorkerMetrics) AddFailure(worker string, n int) {
	if m == nil || m.failure == nil || n <= 0 {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(worker)).Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
