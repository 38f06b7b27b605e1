package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_rpc_calls_total",
			Help: "RPC calls by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_rpc_call_duration_seconds",
			Help:    "RPC round-trip latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"target"},
	)

	mismatchedReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_rpc_mismatched_replies_total",
			Help: "Replies ignored because their correlation id matched no waiting call",
		},
		[]string{"target"},
	)

	pendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "history_rpc_pending_calls",
			Help: "Calls waiting on the shared reply queue",
		},
	)

	expiredCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_rpc_expired_calls_total",
			Help: "Pending calls purged by the expiry sweeper",
		},
	)

	expiredRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_rpc_expired_requests_total",
			Help: "Requests dropped by a responder because the caller's deadline had passed",
		},
		[]string{"subject"},
	)
)
