package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initProtocolMetrics() {
	r.ProtocolConnections = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_protocol_connections",
			Help: "Current number of open client connections",
		},
	)

	r.ProtocolConnsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_protocol_connections_total",
			Help: "Total number of accepted client connections",
		},
	)

	r.ProtocolCommandsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusokv_protocol_commands_total",
			Help: "Total number of client commands",
		},
		[]string{"command", "status"},
	)

	r.ProtocolAuthFailures = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_protocol_auth_failures_total",
			Help: "Total number of failed AUTH attempts",
		},
	)

	r.ProtocolCommandLatency = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusokv_protocol_command_duration_seconds",
			Help:    "Client command latency in seconds",
			Buckets: storageBuckets,
		},
		[]string{"command"},
	)
}
