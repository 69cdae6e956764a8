package payment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the injected metrics sink for the payment module. Explicit
// dependency, never a process-wide singleton.
type Metrics struct {
	ProcessorCalls    *prometheus.CounterVec
	ProcessorRetries  *prometheus.CounterVec
	ProcessorLatency  *prometheus.HistogramVec
	WebhookEvents     *prometheus.CounterVec
	SignatureFailures *prometheus.CounterVec
}

// NewMetrics registers the payment collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProcessorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "processor_calls_total",
			Help:      "Processor API calls by operation and outcome.",
		}, []string{"processor", "operation", "outcome"}),
		ProcessorRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "processor_retries_total",
			Help:      "Retried processor API calls.",
		}, []string{"processor", "operation"}),
		ProcessorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "payments",
			Name:      "processor_call_duration_seconds",
			Help:      "Processor API call duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor", "operation"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "webhook_events_total",
			Help:      "Inbound webhook deliveries by type and outcome.",
		}, []string{"processor", "type", "outcome"}),
		SignatureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "payments",
			Name:      "webhook_signature_failures_total",
			Help:      "Webhook deliveries rejected for bad signatures.",
		}, []string{"processor"}),
	}
}

// NopMetrics returns metrics bound to a throwaway registry; test helper.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
