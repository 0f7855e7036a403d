// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsCreated tracks sessions opened, by kind.
	SessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total capture sessions created",
		},
		[]string{"kind"},
	)

	// SessionTransitions tracks status transitions.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Total session status transitions",
		},
		[]string{"to"},
	)

	// SweepRuns tracks lifecycle sweep executions.
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total scheduler sweep executions",
		},
		[]string{"sweep"},
	)

	// SweepDuration tracks sweep duration.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Scheduler sweep duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"sweep"},
	)

	// ReconcileOutcomes tracks per-session reconciliation results.
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Per-session reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	// CRMCalls tracks external CRM calls.
	CRMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_calls_total",
			Help: "External CRM calls",
		},
		[]string{"op", "status"},
	)

	// NotificationsTotal tracks tier deliveries.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries by tier",
		},
		[]string{"tier", "status"},
	)

	// NotificationsSuppressed tracks cooldown suppressions.
	NotificationsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_suppressed_total",
			Help: "Notifications suppressed by the cooldown limiter",
		},
	)

	// FollowUpsDispatched tracks follow-up dispatch results.
	FollowUpsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "follow_ups_dispatched_total",
			Help: "Follow-up tasks dispatched",
		},
		[]string{"channel", "status"},
	)

	// AssistantReplies tracks assistant reply generation.
	AssistantReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_replies_total",
			Help: "Assistant replies generated",
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordSweep records one sweep execution.
func RecordSweep(sweep string, duration float64) {
	SweepRuns.WithLabelValues(sweep).Inc()
	SweepDuration.WithLabelValues(sweep).Observe(duration)
}
