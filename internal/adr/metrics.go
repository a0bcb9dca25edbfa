package adr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ac = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adr_request_count",
		Help: "The number of ADR requests (per manager and outcome).",
	}, []string{"manager", "outcome"})
)

func adrCounter(manager, outcome string) prometheus.Counter {
	return ac.With(prometheus.Labels{"manager": manager, "outcome": outcome})
}
