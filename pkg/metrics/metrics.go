package metrics

import (
	"runtime"
	"strconv"
	"time"
)

// Status label values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// Every Record/Set helper below is a no-op on a nil *Registry so components
// can run without metrics.

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordEngineOperation records a GET or SET against the engine
func (r *Registry) RecordEngineOperation(operation, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.EngineOperationsTotal.WithLabelValues(operation, status).Inc()
	r.EngineOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFlush records a memtable flush
func (r *Registry) RecordFlush(status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.EngineFlushesTotal.WithLabelValues(status).Inc()
	r.EngineFlushDuration.Observe(duration.Seconds())
}

// RecordCompaction records a compaction of the given source level
func (r *Registry) RecordCompaction(level int, status string, duration time.Duration, dropped int) {
	if r == nil {
		return
	}
	r.EngineCompactionsTotal.WithLabelValues(strconv.Itoa(level), status).Inc()
	r.EngineCompactionDuration.Observe(duration.Seconds())
	if dropped > 0 {
		r.EngineRecordsDropped.Add(float64(dropped))
	}
}

// RecordWALAppend adds appended bytes to the WAL counter
func (r *Registry) RecordWALAppend(bytes int) {
	if r == nil {
		return
	}
	r.EngineWALBytesTotal.Add(float64(bytes))
}

// RecordReadCache records a read cache hit or miss
func (r *Registry) RecordReadCache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.EngineReadCacheTotal.WithLabelValues("hit").Inc()
	} else {
		r.EngineReadCacheTotal.WithLabelValues("miss").Inc()
	}
}

// UpdateEngineShape sets the memtable, index and per-level segment gauges
func (r *Registry) UpdateEngineShape(memtableEntries, indexEntries int, segmentsPerLevel []int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.EngineMemtableEntries.Set(float64(memtableEntries))
	r.EngineIndexEntries.Set(float64(indexEntries))
	for level, n := range segmentsPerLevel {
		r.EngineSegments.WithLabelValues(strconv.Itoa(level)).Set(float64(n))
	}
}

// RecordCommand records a client command with its outcome
func (r *Registry) RecordCommand(command, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.ProtocolCommandsTotal.WithLabelValues(command, status).Inc()
	r.ProtocolCommandLatency.WithLabelValues(command).Observe(duration.Seconds())
}

// ConnectionOpened tracks a newly accepted client connection
func (r *Registry) ConnectionOpened() {
	if r == nil {
		return
	}
	r.ProtocolConnsTotal.Inc()
	r.ProtocolConnections.Inc()
}

// ConnectionClosed tracks a client connection going away
func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}
	r.ProtocolConnections.Dec()
}

// RecordAuthFailure counts a rejected AUTH attempt
func (r *Registry) RecordAuthFailure() {
	if r == nil {
		return
	}
	r.ProtocolAuthFailures.Inc()
}

// UpdateSystemMetrics refreshes uptime and Go runtime gauges
func (r *Registry) UpdateSystemMetrics(start time.Time) {
	if r == nil {
		return
	}
	r.UptimeSeconds.Set(time.Since(start).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
