package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_consumer_messages_total",
			Help: "Messages settled by durable consumers, by outcome",
		},
		[]string{"consumer", "outcome"},
	)

	handleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_consumer_handle_duration_seconds",
			Help:    "Time spent in the message handler",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_consumer_reconnects_total",
			Help: "Consumer session restarts after transport failures",
		},
		[]string{"consumer"},
	)

	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "history_consumer_state",
			Help: "Consumer lifecycle state (0=disconnected, 4=consuming, 5=stopped)",
		},
		[]string{"consumer"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "history_consumer_queue_depth",
			Help: "Deliveries waiting for the consumer worker",
		},
		[]string{"consumer"},
	)
)
