package integration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_delivery_count",
		Help: "The number of delivered events (per event type and outcome).",
	}, []string{"event", "outcome"})
)

func deliveryCounter(event, outcome string) prometheus.Counter {
	return dc.With(prometheus.Labels{"event": event, "outcome": outcome})
}
