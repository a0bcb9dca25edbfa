package facade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	frc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facade_request_count",
		Help: "The number of facade requests (per function and status).",
	}, []string{"function", "status"})

	frd = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "facade_request_duration_seconds",
		Help: "The duration of facade requests (per function).",
	}, []string{"function"})
)

func facadeRequestCounter(function, status string) prometheus.Counter {
	return frc.With(prometheus.Labels{"function": function, "status": status})
}

func facadeRequestDuration(function string) prometheus.Observer {
	return frd.With(prometheus.Labels{"function": function})
}
