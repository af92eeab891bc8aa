// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	ActionsAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_admitted_total",
			Help: "Action requests that passed admission",
		},
		[]string{"action_type"},
	)

	ActionsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_denied_total",
			Help: "Action requests rejected at admission, by error code",
		},
		[]string{"action_type", "error_code"},
	)

	ActionsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "actions_settled_total",
			Help: "Actions reaching a terminal status",
		},
		[]string{"action_type", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "action_dispatch_duration_seconds",
			Help:    "Time spent in the executor per dispatched action",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"action_type", "outcome"},
	)

	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "action_dispatch_in_flight",
			Help: "Actions currently in the Executing state on this instance",
		},
	)

	UsageIncrementFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_usage_increment_failures_total",
			Help: "Completed actions whose usage counter could not be incremented",
		},
	)

	SubscriptionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_subscription_events_total",
			Help: "Subscription purchases, renewals and cancellations",
		},
		[]string{"event"},
	)
)
