package lsm

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/record"
	"github.com/dd0wney/cluso-kv/pkg/wal"
)

// Engine is the log-structured key-value store: a WAL-backed MemTable in
// front of leveled, immutable segment files addressed through an Index.
//
// Locking: writeMu admits a single writer (Set, flush, compaction). mu
// guards the swaps of pending, levels and segments so a reader sees either
// the state before or after a flush or compaction, never a mix. The
// MemTable, Index and ReadCache carry their own locks.
type Engine struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	// Write path
	wal      *wal.WAL
	memTable *MemTable
	pending  []record.Record // Drained run being flushed, sorted by key

	// Read path
	index    *Index
	levels   [][]*Segment
	segments map[uint64]*Segment
	cache    *ReadCache
	nextID   uint64

	// Configuration
	opts      Options
	compactor *Compactor
	logger    logging.Logger
	metrics   *metrics.Registry

	// Background workers
	compactionChan chan struct{}
	stopChan       chan struct{}
	wg             sync.WaitGroup

	// State
	closed atomic.Bool

	// Statistics
	stats engineStats
}

// engineStats tracks engine statistics using lock-free atomic counters
type engineStats struct {
	WriteCount      atomic.Int64
	ReadCount       atomic.Int64
	MissCount       atomic.Int64
	FlushCount      atomic.Int64
	FlushFailures   atomic.Int64
	CompactionCount atomic.Int64
	RecordsDropped  atomic.Int64
	WALBytes        atomic.Int64
	SegmentsDeleted atomic.Int64
}

// Options configures the engine
type Options struct {
	WALDir     string
	SegmentDir string

	// FlushThreshold is the MemTable entry count above which a Set flushes.
	FlushThreshold int

	CompactionFileLimit int
	CompactionLevels    int
	MaxSegmentBytes     int64
	// CompactionInterval adds a periodic compaction check; zero disables it.
	CompactionInterval   time.Duration
	EnableAutoCompaction bool

	// ReadCacheSize is the number of disk-read values kept; zero disables it.
	ReadCacheSize int
}

// DefaultOptions returns default engine configuration
func DefaultOptions(walDir, segmentDir string) Options {
	return Options{
		WALDir:               walDir,
		SegmentDir:           segmentDir,
		FlushThreshold:       1024,
		CompactionFileLimit:  4,
		CompactionLevels:     4,
		MaxSegmentBytes:      64 * 1024 * 1024, // 64MB
		EnableAutoCompaction: true,
		ReadCacheSize:        10000,
	}
}

func (o Options) validate() error {
	switch {
	case o.WALDir == "":
		return errors.New("lsm: WAL directory is required")
	case o.SegmentDir == "":
		return errors.New("lsm: segment directory is required")
	case o.FlushThreshold < 1:
		return errors.New("lsm: flush threshold must be at least 1")
	case o.CompactionFileLimit < 1:
		return errors.New("lsm: compaction file limit must be at least 1")
	case o.CompactionLevels < 1:
		return errors.New("lsm: at least one compaction level is required")
	case o.MaxSegmentBytes < 0:
		return errors.New("lsm: max segment bytes must not be negative")
	case o.CompactionInterval < 0:
		return errors.New("lsm: compaction interval must not be negative")
	}
	return nil
}

// Stats is a point-in-time snapshot of engine statistics
type Stats struct {
	Writes          int64
	Reads           int64
	Misses          int64
	Flushes         int64
	FlushFailures   int64
	Compactions     int64
	RecordsDropped  int64
	WALBytes        int64
	SegmentsDeleted int64

	MemTableEntries  int
	MemTableBytes    int
	IndexEntries     int
	Segments         int
	SegmentsPerLevel []int

	CacheEntries int
	CacheHits    int64
	CacheMisses  int64
}
