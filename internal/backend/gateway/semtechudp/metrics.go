package semtechudp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_semtechudp_udp_packet_count",
		Help: "The number of UDP packets received and sent by the backend (per packet type).",
	}, []string{"type"})

	rc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_semtechudp_rxpk_count",
		Help: "The number of rxpk objects dispatched to the uplink handler.",
	})

	sc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_semtechudp_stat_count",
		Help: "The number of gateway stat objects received.",
	})

	tc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_semtechudp_tx_ack_count",
		Help: "The number of TX_ACK packets received (per status).",
	}, []string{"status"})
)

func udpPacketCounter(t string) prometheus.Counter {
	return pc.With(prometheus.Labels{"type": t})
}

func rxpkCounter() prometheus.Counter {
	return rc
}

func statCounter() prometheus.Counter {
	return sc
}

func txAckCounter(s string) prometheus.Counter {
	return tc.With(prometheus.Labels{"status": s})
}
