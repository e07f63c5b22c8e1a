package health

import (
	"fmt"
	"sync"
	"time"
)

// SimpleCheck creates a check that always reports healthy
func SimpleCheck(name string) CheckFunc {
	return func() Check {
		return Check{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now(),
		}
	}
}

// EngineCheck reports the storage engine unhealthy when ping fails. ping
// must not disturb the engine's own statistics.
func EngineCheck(ping func() error) CheckFunc {
	return func() Check {
		check := Check{Name: "engine"}

		if err := ping(); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Serving reads"
		}

		return check
	}
}

// FlushCheck reports degraded when new flush failures appeared since the
// previous run. Writes are still durable in the WAL, so it never reports
// unhealthy.
func FlushCheck(getCounts func() (flushes, failures int64)) CheckFunc {
	var (
		mu           sync.Mutex
		lastFailures int64
	)
	return func() Check {
		check := Check{
			Name:    "flush",
			Details: make(map[string]any),
		}

		flushes, failures := getCounts()
		check.Details["flushes"] = flushes
		check.Details["failures"] = failures

		mu.Lock()
		recent := failures - lastFailures
		lastFailures = failures
		mu.Unlock()

		if recent > 0 {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d flush failures since last check", recent)
		} else {
			check.Status = StatusHealthy
			check.Message = "Flushing normally"
		}

		return check
	}
}

// CompactionCheck reports how far level 0 has grown past the compaction
// file limit. More than twice the limit is degraded, more than eight times
// is unhealthy.
func CompactionCheck(getShape func() (level0Segments, fileLimit int)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "compaction",
			Details: make(map[string]any),
		}

		level0, limit := getShape()
		check.Details["level0_segments"] = level0
		check.Details["file_limit"] = limit

		switch {
		case limit > 0 && level0 > 8*limit:
			check.Status = StatusUnhealthy
			check.Message = "Compaction is not keeping up"
		case limit > 0 && level0 > 2*limit:
			check.Status = StatusDegraded
			check.Message = "Compaction backlog"
		default:
			check.Status = StatusHealthy
			check.Message = "Compaction keeping up"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func() Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		if sys > 0 && float64(alloc)/float64(sys) > 0.9 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
