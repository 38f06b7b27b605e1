package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LogsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_logger_logs_stored_total",
			Help: "Total number of log entries appended to day documents",
		},
		[]string{"type"},
	)

	LogsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_logger_logs_deleted_total",
			Help: "Total number of log entries deleted through the API",
		},
		[]string{"type"},
	)

	LogsParked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_logger_logs_parked_total",
			Help: "Log events moved to the dead-letter stream",
		},
		[]string{"reason"},
	)

	DLQDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_logger_dlq_messages",
			Help: "Messages held by the log dead-letter stream at the last stats read",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_logger_http_request_duration_seconds",
			Help:    "Duration of logger API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
