// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "executions_total",
		Help:      "Strategy executions by trigger type and outcome",
	}, []string{"type", "status"})

	ExecutionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dcabot",
		Name:      "execution_latency_seconds",
		Help:      "Time from firing to order submission result",
		Buckets:   prometheus.DefBuckets,
	}, []string{"exchange"})

	ExecutionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "executions_skipped_total",
		Help:      "Firings skipped because conditions did not hold",
	})

	SchedulerDueJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dcabot",
		Name:      "scheduler_due_jobs",
		Help:      "Due jobs found by the last scan",
	})

	SchedulerScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "scheduler_scans_total",
		Help:      "Scheduler scans by result",
	}, []string{"result"})

	ReconciledExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "reconciled_executions_total",
		Help:      "Pending executions driven to a terminal state by the sweep",
	}, []string{"status"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "notifications_total",
		Help:      "Notification deliveries by channel and result",
	}, []string{"channel", "result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dcabot",
		Name:      "ws_connections",
		Help:      "Active realtime websocket connections",
	})

	WSDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "ws_dropped_messages_total",
		Help:      "Realtime messages dropped for slow subscribers",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "http_requests_total",
		Help:      "API requests by method, route and status class",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dcabot",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	ExchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dcabot",
		Name:      "exchange_requests_total",
		Help:      "Exchange REST calls by venue, HTTP method and result",
	}, []string{"exchange", "method", "result"})
)

// Result maps an error to the label used by the counters above.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
