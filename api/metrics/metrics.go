// Package metrics declares the process Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitterhub",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitterhub",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// SyncTotal counts entitlement synchronizations by trigger and outcome.
	SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitterhub",
		Subsystem: "billing",
		Name:      "sync_total",
		Help:      "Entitlement synchronizations by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	// SubscriptionsCreatedTotal counts subscriptions created from checkout sessions.
	SubscriptionsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitterhub",
		Subsystem: "billing",
		Name:      "subscriptions_created_total",
		Help:      "Subscriptions created or recognized from checkout sessions.",
	}, []string{"plan", "outcome"})

	// CacheOperations counts entitlement cache reads and writes by result.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitterhub",
		Subsystem: "billing",
		Name:      "entitlement_cache_operations_total",
		Help:      "Entitlement snapshot cache operations by kind and result.",
	}, []string{"op", "result"})
)
