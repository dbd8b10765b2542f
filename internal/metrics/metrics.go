// Package metrics exposes Prometheus counters for the task engine and HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TasksPriced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_priced_total",
			Help: "Next-task requests that returned a priced task",
		},
		[]string{"mode"},
	)

	TasksBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_blocked_total",
			Help: "Next-task requests that were blocked, by reason",
		},
		[]string{"reason"},
	)

	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_completed_total",
			Help: "Tasks completed for the first time",
		},
	)

	CommissionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commissions_recorded_total",
			Help: "Commission records created, by type",
		},
		[]string{"type"},
	)

	RechargesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recharges_processed_total",
			Help: "Recharge requests processed, by outcome",
		},
		[]string{"status"},
	)

	StopPointsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stop_points_cleared_total",
			Help: "Stop point gates cleared by recharges",
		},
	)

	UserLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "user_lock_wait_seconds",
			Help:    "Time spent waiting for a per-user lock, by outcome",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"result"},
	)

	DBPoolConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "PostgreSQL pool connections, by state",
		},
		[]string{"state"},
	)
)
