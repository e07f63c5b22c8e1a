package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-kv/pkg/health"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Engine is the part of the storage engine the admin endpoint uses
type Engine interface {
	Ping() error
	Flush() error
	Compact() error
	Stats() lsm.Stats
	Levels() [][]lsm.SegmentInfo
}

// Admin serves health, metrics, stats and maintenance endpoints
type Admin struct {
	router    *mux.Router
	engine    Engine
	metrics   *metrics.Registry
	health    *health.HealthChecker
	logger    logging.Logger
	startTime time.Time
}

// NewAdmin builds the admin router. fileLimit is the compaction file limit,
// used to judge the level-0 backlog.
func NewAdmin(engine Engine, reg *metrics.Registry, fileLimit int, logger logging.Logger) *Admin {
	a := &Admin{
		router:    mux.NewRouter(),
		engine:    engine,
		metrics:   reg,
		health:    health.NewHealthChecker(),
		logger:    logging.OrNop(logger).With(logging.Component("admin")),
		startTime: time.Now(),
	}

	a.health.RegisterLivenessCheck("process", health.SimpleCheck("process"))
	a.health.RegisterReadinessCheck("engine", health.EngineCheck(engine.Ping))
	a.health.RegisterCheck("flush", health.FlushCheck(func() (int64, int64) {
		s := engine.Stats()
		return s.Flushes, s.FlushFailures
	}))
	a.health.RegisterCheck("compaction", health.CompactionCheck(func() (int, int) {
		s := engine.Stats()
		if len(s.SegmentsPerLevel) == 0 {
			return 0, fileLimit
		}
		return s.SegmentsPerLevel[0], fileLimit
	}))
	a.health.RegisterCheck("memory", health.MemoryCheck(func() (uint64, uint64) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.Alloc, m.Sys
	}))

	a.routes()
	return a
}

func (a *Admin) routes() {
	a.router.Use(a.metricsMiddleware)

	a.router.HandleFunc("/health", a.health.HTTPHandler()).Methods(http.MethodGet)
	a.router.HandleFunc("/health/ready", a.health.ReadinessHandler()).Methods(http.MethodGet)
	a.router.HandleFunc("/health/live", a.health.LivenessHandler()).Methods(http.MethodGet)
	a.router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	a.router.HandleFunc("/admin/flush", a.handleFlush).Methods(http.MethodPost)
	a.router.HandleFunc("/admin/compact", a.handleCompact).Methods(http.MethodPost)

	if a.metrics != nil {
		a.router.Handle("/metrics", promhttp.HandlerFor(
			a.metrics.GetPrometheusRegistry(),
			promhttp.HandlerOpts{Registry: a.metrics.GetPrometheusRegistry()},
		)).Methods(http.MethodGet)
	}
}

// Handler returns the admin router
func (a *Admin) Handler() http.Handler {
	return a.router
}

// LevelResponse describes one level in /stats
type LevelResponse struct {
	Level    int               `json:"level"`
	Segments []SegmentResponse `json:"segments"`
}

// SegmentResponse describes one segment in /stats
type SegmentResponse struct {
	ID      uint64 `json:"id"`
	Path    string `json:"path"`
	Size    int64  `json:"size_bytes"`
	Records int    `json:"records"`
}

// StatsResponse is the /stats body
type StatsResponse struct {
	UptimeSeconds   float64         `json:"uptime_seconds"`
	Writes          int64           `json:"writes"`
	Reads           int64           `json:"reads"`
	Misses          int64           `json:"misses"`
	Flushes         int64           `json:"flushes"`
	FlushFailures   int64           `json:"flush_failures"`
	Compactions     int64           `json:"compactions"`
	RecordsDropped  int64           `json:"records_dropped"`
	WALBytes        int64           `json:"wal_bytes"`
	MemTableEntries int             `json:"memtable_entries"`
	IndexEntries    int             `json:"index_entries"`
	CacheEntries    int             `json:"cache_entries"`
	CacheHits       int64           `json:"cache_hits"`
	CacheMisses     int64           `json:"cache_misses"`
	Levels          []LevelResponse `json:"levels"`
}

func (a *Admin) handleStats(w http.ResponseWriter, r *http.Request) {
	s := a.engine.Stats()
	resp := StatsResponse{
		UptimeSeconds:   time.Since(a.startTime).Seconds(),
		Writes:          s.Writes,
		Reads:           s.Reads,
		Misses:          s.Misses,
		Flushes:         s.Flushes,
		FlushFailures:   s.FlushFailures,
		Compactions:     s.Compactions,
		RecordsDropped:  s.RecordsDropped,
		WALBytes:        s.WALBytes,
		MemTableEntries: s.MemTableEntries,
		IndexEntries:    s.IndexEntries,
		CacheEntries:    s.CacheEntries,
		CacheHits:       s.CacheHits,
		CacheMisses:     s.CacheMisses,
	}
	for level, segs := range a.engine.Levels() {
		lr := LevelResponse{Level: level, Segments: make([]SegmentResponse, 0, len(segs))}
		for _, seg := range segs {
			lr.Segments = append(lr.Segments, SegmentResponse{
				ID:      seg.ID,
				Path:    seg.Path,
				Size:    seg.Size,
				Records: seg.Records,
			})
		}
		resp.Levels = append(resp.Levels, lr)
	}
	a.respondJSON(w, http.StatusOK, resp)
}

func (a *Admin) handleFlush(w http.ResponseWriter, r *http.Request) {
	a.maintenance(w, "flush", a.engine.Flush)
}

func (a *Admin) handleCompact(w http.ResponseWriter, r *http.Request) {
	a.maintenance(w, "compact", a.engine.Compact)
}

func (a *Admin) maintenance(w http.ResponseWriter, op string, fn func() error) {
	timer := logging.StartTimer(a.logger, "manual "+op, logging.String("operation", op))
	if err := fn(); err != nil {
		timer.EndError(err)
		status := http.StatusInternalServerError
		if lsm.IsClosed(err) {
			status = http.StatusServiceUnavailable
		}
		a.respondJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	timer.End()
	a.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Admin) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Warn("failed to encode response", logging.Error(err))
	}
}

// RunMetricsUpdater refreshes system gauges every interval until ctx is done
func (a *Admin) RunMetricsUpdater(ctx context.Context, interval time.Duration) {
	if a.metrics == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.metrics.UpdateSystemMetrics(a.startTime)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
