package observer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Series written by cmd/loadgen.
var loadgenMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "conversation_router_loadgen_messages_total",
	Help: "Messages handled by the load generator, labeled by result (attempted, published, error).",
}, []string{"subject", "tenant_id", "result"})

func incLoadgen(subject, tenantID, result string) {
	if metricsEnabled {
		loadgenMessagesTotal.WithLabelValues(subject, sanitizeTenant(tenantID), result).Inc()
	}
}

func IncLoadgenMessagesAttempted(subject, tenantID string) {
	incLoadgen(subject, tenantID, "attempted")
}
func IncLoadgenMessagesPublished(subject, tenantID string) {
	incLoadgen(subject, tenantID, "published")
}
func IncLoadgenPublishErrors(subject, tenantID string) { incLoadgen(subject, tenantID, "error") }
