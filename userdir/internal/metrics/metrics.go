package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LookupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_userdir_lookups_total",
			Help: "Total number of user lookup requests served",
		},
	)

	CacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_userdir_cache_results_total",
			Help: "User cache reads by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	UnknownUsers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_userdir_unknown_users_total",
			Help: "Requested user ids with no stored record",
		},
	)
)
