package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Admin HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Engine Metrics
	EngineOperationsTotal    *prometheus.CounterVec
	EngineOperationDuration  *prometheus.HistogramVec
	EngineFlushesTotal       *prometheus.CounterVec
	EngineFlushDuration      prometheus.Histogram
	EngineCompactionsTotal   *prometheus.CounterVec
	EngineCompactionDuration prometheus.Histogram
	EngineRecordsDropped     prometheus.Counter
	EngineMemtableEntries    prometheus.Gauge
	EngineIndexEntries       prometheus.Gauge
	EngineSegments           *prometheus.GaugeVec
	EngineWALBytesTotal      prometheus.Counter
	EngineReadCacheTotal     *prometheus.CounterVec

	// Protocol Metrics
	ProtocolConnections    prometheus.Gauge
	ProtocolConnsTotal     prometheus.Counter
	ProtocolCommandsTotal  *prometheus.CounterVec
	ProtocolAuthFailures   prometheus.Counter
	ProtocolCommandLatency *prometheus.HistogramVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initHTTPMetrics()
	r.initStorageMetrics()
	r.initProtocolMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
