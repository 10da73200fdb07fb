// Package metrics holds the process-wide prometheus collectors, exposed on
// the embedded HTTP server's /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TargetRuns counts completed target runs by result.
	TargetRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Name:      "target_runs_total",
		Help:      "Completed target runs, labeled by target and result.",
	}, []string{"target", "result"})

	// TaskRuns counts task executions by task name and result.
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Name:      "task_runs_total",
		Help:      "Task executions, labeled by task and result.",
	}, []string{"task", "result"})

	// Submissions counts inventory submissions by kind (full or partial).
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Name:      "inventory_submissions_total",
		Help:      "Inventory submissions, labeled by kind.",
	}, []string{"kind"})

	// HTTPRequests counts embedded server requests by route and code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "httpd",
		Name:      "requests_total",
		Help:      "Embedded HTTP server requests, labeled by route and status code.",
	}, []string{"route", "code"})

	// Events counts events consumed from target queues.
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Name:      "events_total",
		Help:      "Events consumed from target queues, labeled by type.",
	}, []string{"type"})

	// PendingRetries counts pending long-poll retries against servers.
	PendingRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "burrow",
		Name:      "pending_retries_total",
		Help:      "Retries spent polling servers that answered pending.",
	})

	// TrustDenials counts requests to trust-gated routes from untrusted
	// peers.
	TrustDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "burrow",
		Subsystem: "httpd",
		Name:      "trust_denials_total",
		Help:      "Requests refused on trust-gated routes, labeled by route.",
	}, []string{"route"})

	// TargetNextRun exposes each target's next scheduled run as a unix
	// timestamp.
	TargetNextRun = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "burrow",
		Name:      "target_next_run_timestamp_seconds",
		Help:      "Next scheduled run per target, unix seconds.",
	}, []string{"target"})
)
