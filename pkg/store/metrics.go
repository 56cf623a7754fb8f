package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations tracks successful store operations by name
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheerid_store_operations_total",
			Help: "Total number of verification store operations",
		},
		[]string{"operation"}, // "mark_verified", "is_verified", "verified", "record_result", "result"
	)

	// StoreErrors tracks failed store operations by name
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheerid_store_errors_total",
			Help: "Total number of verification store errors",
		},
		[]string{"operation"},
	)
)
