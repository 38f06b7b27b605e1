package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VersionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_versioning_versions_created_total",
			Help: "Total number of item versions written",
		},
		[]string{"item_type"},
	)

	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_versioning_duplicates_skipped_total",
			Help: "Item change events skipped because their mutation id was already versioned",
		},
		[]string{"item_type"},
	)

	VersionsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_versioning_versions_deleted_total",
			Help: "Total number of item versions deleted through the API",
		},
		[]string{"item_type"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_versioning_events_rejected_total",
			Help: "Item change events that can never be versioned",
		},
		[]string{"reason"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "history_versioning_http_request_duration_seconds",
			Help:    "Duration of versioning API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
