package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "storage_lock_acquire_duration_seconds",
		Help: "The time it took to acquire a distributed lock.",
	})

	lockTimeoutCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storage_lock_timeout_count",
		Help: "The number of distributed lock acquire timeouts.",
	})
)
