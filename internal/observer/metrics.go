package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "tenant_id", "consumer_type"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "tenant_id", "consumer_type", "action", "error_type"}

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_events_received_total",
			Help: "Total number of events received from NATS, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_events_processed_total",
			Help: "Total number of events successfully processed and acknowledged, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_events_failed_total",
			Help: "Total number of events that failed processing (resulting in Nack or error), labeled by consumer type.",
		},
		eventProcessingLabels,
	)

	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_router_event_processing_duration_seconds",
			Help:    "Histogram of event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_router_event_routing_duration_seconds",
			Help:    "Histogram of event routing specific durations (time spent in router.Route).",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		eventProcessingLabels,
	)

	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_event_processing_actions_total",
			Help: "Total count of specific actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)
)

// Routing metrics: assignment outcomes, lock health, status transitions, presence and fanout.
var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_assignments_total",
			Help: "Conversations created, labeled by assignment outcome (assigned, unassigned, suspended, no_department).",
		},
		[]string{"tenant_id", "channel", "outcome"},
	)
	LockDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_lock_degraded_total",
			Help: "Times the tenant assignment lock could not be taken and creation ran without it.",
		},
		[]string{"reason"},
	)
	LockWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversation_router_lock_wait_seconds",
			Help:    "Time spent waiting for the tenant assignment lock.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13), // 1ms to ~4s
		},
	)
	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_status_transitions_total",
			Help: "Message rows moved to a new status, labeled by target status and trigger.",
		},
		[]string{"status", "trigger"},
	)
	StaleStatusUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_stale_status_updates_total",
			Help: "Status callbacks that matched no row because the message was already at or past the target.",
		},
		[]string{"status"},
	)
	AgentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_router_agents_online",
		Help: "Number of agents with at least one live dashboard connection on this instance.",
	})
	FanoutDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_fanout_delivered_total",
			Help: "Realtime events delivered to subscribers, labeled by event type.",
		},
		[]string{"event_type"},
	)
	FanoutDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_fanout_dropped_total",
			Help: "Realtime events dropped, labeled by reason (buffer_full, pool_overload or the failing sink name).",
		},
		[]string{"event_type", "reason"},
	)
	ProviderSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_router_provider_sends_total",
			Help: "Outbound provider send attempts, labeled by channel and result.",
		},
		[]string{"channel", "result"},
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "tenant_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_router_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// InitMetrics turns metric collection on or off. Collectors stay registered
// either way; disabled helpers simply return.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, tenant, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Inc()
}

// sanitizeTenant ensures the tenant label is valid or returns a default value.
func sanitizeTenant(tenant string) string {
	if tenant == "" || tenant == "0" {
		return "unknown"
	}
	return tenant
}

// --- Routing Metric Helpers ---

// IncAssignment counts a conversation creation by assignment outcome.
func IncAssignment(tenant, channel, outcome string) {
	if !metricsEnabled {
		return
	}
	AssignmentsTotal.WithLabelValues(sanitizeTenant(tenant), channel, outcome).Inc()
}

// IncLockDegraded counts a creation that ran without the tenant lock.
func IncLockDegraded(reason string) {
	if !metricsEnabled {
		return
	}
	LockDegradedTotal.WithLabelValues(reason).Inc()
}

// ObserveLockWait records how long the tenant lock took to acquire.
func ObserveLockWait(d time.Duration) {
	if !metricsEnabled {
		return
	}
	LockWaitSeconds.Observe(d.Seconds())
}

// AddStatusTransitions counts rows moved to status by trigger.
func AddStatusTransitions(status, trigger string, rows int64) {
	if !metricsEnabled || rows <= 0 {
		return
	}
	StatusTransitionsTotal.WithLabelValues(status, trigger).Add(float64(rows))
}

// IncStaleStatusUpdate counts a status update that matched no rows.
func IncStaleStatusUpdate(status string) {
	if !metricsEnabled {
		return
	}
	StaleStatusUpdatesTotal.WithLabelValues(status).Inc()
}

// SetAgentsOnline sets the online agent gauge.
func SetAgentsOnline(n int) {
	if !metricsEnabled {
		return
	}
	AgentsOnline.Set(float64(n))
}

// IncFanoutDelivered counts a realtime event delivered to one subscriber.
func IncFanoutDelivered(eventType string) {
	if !metricsEnabled {
		return
	}
	FanoutDeliveredTotal.WithLabelValues(eventType).Inc()
}

// IncFanoutDropped counts a realtime event that was not delivered.
func IncFanoutDropped(eventType, reason string) {
	if !metricsEnabled {
		return
	}
	FanoutDroppedTotal.WithLabelValues(eventType, reason).Inc()
}

// IncProviderSend counts an outbound provider send by result.
func IncProviderSend(channel, result string) {
	if !metricsEnabled {
		return
	}
	ProviderSendsTotal.WithLabelValues(channel, result).Inc()
}

// --- Event Metric Helpers ---

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveEventRoutingDuration records the routing time for a specific event.
func ObserveEventRoutingDuration(eventType, tenant, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, tenantID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeTenant(tenantID), status).Observe(duration.Seconds())
}

// IncEventProcessingAction increments the counter for a specific processing outcome.
func IncEventProcessingAction(eventType, tenant, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	sanitizedErrorType := SanitizeErrorType(errorType)
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeTenant(tenant), consumerType, action, sanitizedErrorType).Inc()
}

// SanitizeErrorType maps specific errors or provides a default category.
// Keep this simple to avoid high cardinality.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "cannot resolve identity"):
		return "identity"
	case strings.Contains(errStr, "provider send failed"):
		return "send"
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "duplicate"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"), strings.Contains(errStr, "missing field"):
		return "validation"
	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
