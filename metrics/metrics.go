package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts provider webhook deliveries by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinipratica",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total payment provider webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clinipratica",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Payment provider webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// BillingTransitionsTotal counts tenant billing writes by resulting status.
	BillingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinipratica",
		Subsystem: "billing",
		Name:      "transitions_total",
		Help:      "Tenant billing status transitions applied, by resulting status.",
	}, []string{"status"})

	UnmappedPlansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clinipratica",
		Subsystem: "billing",
		Name:      "unmapped_plans_total",
		Help:      "Authorized subscriptions whose external plan id is missing from the plan table.",
	})

	// WebhookSignatureFailures counts deliveries rejected by signature verification.
	WebhookSignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clinipratica",
		Subsystem: "billing",
		Name:      "webhook_signature_failures_total",
		Help:      "Webhook deliveries rejected by signature verification, by reason.",
	}, []string{"reason"})
)
