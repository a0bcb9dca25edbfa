package fcnt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	duplicateCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fcnt_duplicate_uplink_count",
		Help: "The number of uplinks detected as duplicate.",
	})

	stateUpdateCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fcnt_state_update_count",
		Help: "The number of frame-counter state updates.",
	})
)
