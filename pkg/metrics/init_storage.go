package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storageBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0}

func (r *Registry) initStorageMetrics() {
	r.EngineOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusokv_engine_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"operation", "status"},
	)

	r.EngineOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clusokv_engine_operation_duration_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: storageBuckets,
		},
		[]string{"operation"},
	)

	r.EngineFlushesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusokv_engine_flushes_total",
			Help: "Total number of memtable flushes",
		},
		[]string{"status"},
	)

	r.EngineFlushDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusokv_engine_flush_duration_seconds",
			Help:    "Memtable flush duration in seconds",
			Buckets: storageBuckets,
		},
	)

	r.EngineCompactionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusokv_engine_compactions_total",
			Help: "Total number of compactions by source level",
		},
		[]string{"level", "status"},
	)

	r.EngineCompactionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusokv_engine_compaction_duration_seconds",
			Help:    "Compaction duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
	)

	r.EngineRecordsDropped = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_engine_compaction_records_dropped_total",
			Help: "Shadowed records removed by compaction",
		},
	)

	r.EngineMemtableEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_engine_memtable_entries",
			Help: "Number of entries in the memtable",
		},
	)

	r.EngineIndexEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "clusokv_engine_index_entries",
			Help: "Number of keys addressed by the on-disk index",
		},
	)

	r.EngineSegments = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clusokv_engine_segments",
			Help: "Number of live segment files per level",
		},
		[]string{"level"},
	)

	r.EngineWALBytesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "clusokv_engine_wal_bytes_total",
			Help: "Bytes appended to the write-ahead log",
		},
	)

	r.EngineReadCacheTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusokv_engine_read_cache_total",
			Help: "Read cache lookups by result",
		},
		[]string{"result"},
	)
}
