package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DLQ task outcomes, one series each per tenant.
const (
	dlqSubmitted = "submitted"
	dlqRetried   = "retried"
	dlqAcked     = "acked"
	dlqAckFailed = "ack_failed"
	dlqDropped   = "dropped"
	fetchOK      = "ok"
	fetchFailed  = "error"
)

var (
	dlqFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_router_dlq_fetches_total",
		Help: "Pull requests made against the dead-letter stream, labeled by result.",
	}, []string{"result"})

	dlqQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_router_dlq_queue_length",
		Help: "Dead-lettered messages waiting in the worker channel.",
	})
	dlqWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_router_dlq_workers_active",
		Help: "DLQ worker goroutines currently running.",
	})

	dlqTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_router_dlq_tasks_total",
		Help: "Dead-lettered messages handled by the worker pool, labeled by outcome.",
	}, []string{"tenant_id", "outcome"})

	dlqProcessingDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conversation_router_dlq_processing_duration_seconds",
		Help:    "Time spent replaying one dead-lettered message.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tenant_id"})
)

func incDlqTask(tenantID, outcome string) {
	if metricsEnabled {
		dlqTasksTotal.WithLabelValues(sanitizeTenant(tenantID), outcome).Inc()
	}
}

func IncDlqFetchRequest() {
	if metricsEnabled {
		dlqFetchesTotal.WithLabelValues(fetchOK).Inc()
	}
}

func IncDlqFetchError() {
	if metricsEnabled {
		dlqFetchesTotal.WithLabelValues(fetchFailed).Inc()
	}
}

func SetDlqQueueLength(length int) {
	if metricsEnabled {
		dlqQueueLength.Set(float64(length))
	}
}

func SetDlqWorkersActive(count int) {
	if metricsEnabled {
		dlqWorkersActive.Set(float64(count))
	}
}

func ObserveDlqProcessingDuration(tenantID string, d time.Duration) {
	if metricsEnabled {
		dlqProcessingDurationSeconds.WithLabelValues(sanitizeTenant(tenantID)).Observe(d.Seconds())
	}
}

func IncDlqTasksSubmitted(tenantID string) { incDlqTask(tenantID, dlqSubmitted) }
func IncDlqTaskRetry(tenantID string)      { incDlqTask(tenantID, dlqRetried) }
func IncDlqAckSuccess(tenantID string)     { incDlqTask(tenantID, dlqAcked) }
func IncDlqAckFailure(tenantID string)     { incDlqTask(tenantID, dlqAckFailed) }

// IncDlqTasksDropped counts messages terminated without replay, such as
// garbled payloads.
func IncDlqTasksDropped(tenantID string) { incDlqTask(tenantID, dlqDropped) }
