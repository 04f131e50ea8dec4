package svc

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors SVC registers for itself, filling
// the role the original implementation's GetProfilingCounts API exposes
// on-demand (spec §6): here the same counters are continuously scraped
// instead of polled, which is the idiomatic Go way to surface them.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	PacketsReceived   *prometheus.CounterVec
	PacketsSent       *prometheus.CounterVec
	Retransmits       prometheus.Counter
	RTT               prometheus.Histogram
	DispatchErrors    *prometheus.CounterVec
}

// NewMetrics constructs and registers a Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fsp",
			Subsystem: "svc",
			Name:      "connections_active",
			Help:      "Number of sockets currently bound in the SVC translation look-aside buffer.",
		}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsp",
			Subsystem: "svc",
			Name:      "packets_received_total",
			Help:      "Inbound FSP packets processed, labeled by opcode.",
		}, []string{"opcode"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsp",
			Subsystem: "svc",
			Name:      "packets_sent_total",
			Help:      "Outbound FSP packets transmitted, labeled by opcode.",
		}, []string{"opcode"}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fsp",
			Subsystem: "svc",
			Name:      "retransmits_total",
			Help:      "Send-ring blocks retransmitted, after their RTO expired or on a selective NACK.",
		}),
		RTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fsp",
			Subsystem: "svc",
			Name:      "rtt_seconds",
			Help:      "Sampled round-trip time per acknowledged, non-retransmitted block.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsp",
			Subsystem: "svc",
			Name:      "dispatch_errors_total",
			Help:      "Inbound packets dropped by the dispatcher, labeled by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.ConnectionsActive, m.PacketsReceived, m.PacketsSent,
		m.Retransmits, m.RTT, m.DispatchErrors)
	return m
}
