// Package lsm implements the storage engine: a WAL-backed MemTable, an
// Index from key to segment location, immutable segment files organised in
// levels, and leveled compaction.
package lsm

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dd0wney/cluso-kv/pkg/fsutil"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/record"
	"github.com/dd0wney/cluso-kv/pkg/wal"
)

// Open creates the directories if needed, loads the live segments listed in
// the manifest, rebuilds the Index, deletes orphaned segment files and
// replays the WAL into a fresh MemTable. reg may be nil.
func Open(opts Options, logger logging.Logger, reg *metrics.Registry) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger).With(logging.Component("lsm"))

	if err := fsutil.EnsureDir(opts.SegmentDir); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	e := &Engine{
		index:          NewIndex(),
		segments:       make(map[uint64]*Segment),
		cache:          NewReadCache(opts.ReadCacheSize),
		opts:           opts,
		logger:         logger,
		metrics:        reg,
		compactionChan: make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
	}

	if err := e.loadSegments(); err != nil {
		e.releaseSegments()
		return nil, err
	}

	w, err := wal.Open(opts.WALDir, logger)
	if err != nil {
		e.releaseSegments()
		return nil, err
	}
	e.wal = w
	e.memTable = NewMemTable(w)

	replayed, err := w.Replay()
	if err != nil {
		_ = w.Close()
		e.releaseSegments()
		return nil, fmt.Errorf("failed to replay WAL: %w", err)
	}
	e.memTable.Restore(replayed)

	strategy := &LeveledCompactionStrategy{
		FileLimit: opts.CompactionFileLimit,
		MaxLevels: opts.CompactionLevels,
	}
	e.compactor = NewCompactor(opts.SegmentDir, strategy, opts.MaxSegmentBytes, e.allocateID, logger)

	logger.Info("engine opened",
		logging.Path(opts.SegmentDir),
		logging.Int("segments", len(e.segments)),
		logging.Int("index_entries", e.index.Len()),
		logging.Int("wal_records", len(replayed)))
	e.publishShape()

	// Start background workers
	if opts.EnableAutoCompaction {
		e.wg.Add(1)
		go e.compactionWorker()
		e.triggerCompaction()
	}

	return e, nil
}

// loadSegments opens the manifest's segments and rebuilds the Index from
// oldest to newest: deepest level first, ascending id within a level.
func (e *Engine) loadSegments() error {
	dir := e.opts.SegmentDir

	m, err := LoadManifest(dir)
	if err != nil {
		return err
	}
	e.nextID = m.NextID

	e.levels = make([][]*Segment, len(m.Levels))
	for level, ids := range m.Levels {
		e.levels[level] = make([]*Segment, 0, len(ids))
		for _, id := range ids {
			seg, err := openSegment(SegmentPath(dir, id), id)
			if err != nil {
				return &Error{Op: "open", Kind: KindIO, Cause: err}
			}
			e.adopt(seg)
			e.levels[level] = append(e.levels[level], seg)
			if id >= e.nextID {
				e.nextID = id + 1
			}
		}
	}

	for level := len(e.levels) - 1; level >= 0; level-- {
		ordered := make([]*Segment, len(e.levels[level]))
		copy(ordered, e.levels[level])
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

		for _, seg := range ordered {
			n := 0
			var first, last []byte
			err := seg.Scan(func(rec record.Record, loc Location) error {
				e.index.Record(rec.Key, loc)
				if n == 0 {
					first = rec.Key
				}
				last = rec.Key
				n++
				return nil
			})
			if err != nil {
				return newError("open", nil, err)
			}
			seg.records = n
			seg.setBounds(first, last)
		}
	}

	return e.removeOrphans(m.IDs())
}

// removeOrphans deletes segment files the manifest does not list. They are
// left behind by a flush or compaction that died before its manifest write.
func (e *Engine) removeOrphans(live map[uint64]struct{}) error {
	dir := e.opts.SegmentDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Error{Op: "open", Kind: KindIO, Cause: err}
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == ManifestName+".tmp" {
			_ = os.Remove(filepath.Join(dir, name))
			continue
		}
		id, ok := ParseSegmentName(name)
		if !ok {
			continue
		}
		if id >= e.nextID {
			e.nextID = id + 1
		}
		if _, listed := live[id]; listed {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return &Error{Op: "open", Kind: KindIO, Cause: err}
		}
		e.logger.Warn("removed orphaned segment", logging.SegmentID(id))
	}
	return nil
}

func (e *Engine) adopt(seg *Segment) {
	seg.onClose = e.segmentClosed
	e.segments[seg.id] = seg
}

func (e *Engine) segmentClosed(seg *Segment, err error) {
	if err != nil {
		e.logger.Error("failed to release segment", logging.SegmentID(seg.id), logging.Error(err))
		return
	}
	if seg.obsolete.Load() {
		e.stats.SegmentsDeleted.Add(1)
		e.logger.Debug("deleted obsolete segment", logging.SegmentID(seg.id))
	}
}

func (e *Engine) allocateID() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	return id
}

// Ping reports whether the engine can serve requests: it is open and its WAL
// file is still in place. Unlike Get it leaves every counter untouched.
func (e *Engine) Ping() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if _, err := os.Stat(e.wal.Path()); err != nil {
		return &Error{Op: "ping", Kind: KindIO, Cause: err}
	}
	return nil
}

// Get returns the value stored for key, or ErrNotFound.
func (e *Engine) Get(key []byte) ([]byte, error) {
	start := time.Now()
	value, err := e.get(key)

	status := metrics.StatusSuccess
	switch {
	case err == nil:
	case IsNotFound(err):
		status = metrics.StatusNotFound
		e.stats.MissCount.Add(1)
	default:
		status = metrics.StatusError
		e.logger.Error("get failed", logging.Key(key), logging.Error(err))
	}
	e.stats.ReadCount.Add(1)
	e.metrics.RecordEngineOperation("get", status, time.Since(start))
	return value, err
}

func (e *Engine) get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	epoch := e.cache.Epoch()

	e.mu.RLock()

	// 1. MemTable is authoritative
	if value, ok := e.memTable.Get(key); ok {
		e.mu.RUnlock()
		return cloneBytes(value), nil
	}

	// 2. Run being flushed
	if value, ok := searchRun(e.pending, key); ok {
		e.mu.RUnlock()
		return cloneBytes(value), nil
	}

	// 3. Read cache
	cacheKey := string(key)
	if e.cache.Enabled() {
		value, ok := e.cache.Get(cacheKey)
		e.metrics.RecordReadCache(ok)
		if ok {
			e.mu.RUnlock()
			return cloneBytes(value), nil
		}
	}

	// 4. Index and segment
	loc, ok := e.index.Lookup(key)
	if !ok {
		e.mu.RUnlock()
		return nil, ErrNotFound
	}
	seg := e.segments[loc.SegmentID]
	if seg == nil {
		e.mu.RUnlock()
		if e.closed.Load() {
			return nil, ErrClosed
		}
		return nil, &Error{Op: "get", Kind: KindIO, Key: cacheKey,
			Cause: fmt.Errorf("index points at unknown segment %d", loc.SegmentID)}
	}
	if !seg.acquire() {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	e.mu.RUnlock()
	defer seg.release()

	rec, err := seg.ReadAt(loc)
	if err != nil {
		return nil, newError("get", key, err)
	}
	if !bytes.Equal(rec.Key, key) {
		return nil, &Error{Op: "get", Kind: KindCodec, Key: cacheKey,
			Cause: fmt.Errorf("segment %d offset %d holds key %q", loc.SegmentID, loc.Offset, rec.Key)}
	}

	e.cache.PutIfCurrent(cacheKey, rec.Value, epoch)
	return cloneBytes(rec.Value), nil
}

func searchRun(run []record.Record, key []byte) ([]byte, bool) {
	i := sort.Search(len(run), func(i int) bool {
		return bytes.Compare(run[i].Key, key) >= 0
	})
	if i < len(run) && bytes.Equal(run[i].Key, key) {
		return run[i].Value, true
	}
	return nil, false
}

func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}

// Set durably records key=value. It returns once the WAL append is synced;
// if the MemTable then holds more than FlushThreshold entries it is flushed.
// A failed flush is logged and retried on the next Set but does not fail
// this one.
func (e *Engine) Set(key, value []byte) error {
	start := time.Now()
	err := e.set(key, value)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	e.metrics.RecordEngineOperation("set", status, time.Since(start))
	return err
}

func (e *Engine) set(key, value []byte) error {
	if err := record.Validate(key, value); err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}

	if err := e.memTable.Set(key, value); err != nil {
		e.logger.Error("WAL append failed", logging.Key(key), logging.Error(err))
		return newError("set", key, err)
	}
	e.cache.Invalidate(string(key))

	n := 2 + len(key) + len(value)
	e.stats.WriteCount.Add(1)
	e.stats.WALBytes.Add(int64(n))
	e.metrics.RecordWALAppend(n)

	if e.memTable.Len() > e.opts.FlushThreshold {
		if err := e.flushLocked(); err != nil {
			e.logger.Error("flush failed", logging.Error(err))
		}
	} else if e.metrics != nil {
		e.metrics.EngineMemtableEntries.Set(float64(e.memTable.Len()))
	}
	return nil
}

// Flush writes the MemTable to a new level-0 segment and clears the WAL.
func (e *Engine) Flush() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	return e.flushLocked()
}

// Compact runs compactions until no level is over its file limit.
func (e *Engine) Compact() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	return e.compactLocked()
}

// Snapshot calls fn once for every live key with its newest value, in
// ascending key order. Writers are blocked while it runs.
func (e *Engine) Snapshot(fn func(rec record.Record) error) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}

	mem := e.memTable.Entries()
	disk := e.index.Sorted()

	i, j := 0, 0
	for i < len(mem) || j < len(disk) {
		if j >= len(disk) || (i < len(mem) && string(mem[i].Key) <= disk[j].Key) {
			if j < len(disk) && string(mem[i].Key) == disk[j].Key {
				j++
			}
			if err := fn(record.New(mem[i].Key, mem[i].Value)); err != nil {
				return err
			}
			i++
			continue
		}

		ent := disk[j]
		j++
		seg := e.segments[ent.Location.SegmentID]
		if seg == nil {
			return &Error{Op: "snapshot", Kind: KindIO, Key: ent.Key,
				Cause: fmt.Errorf("index points at unknown segment %d", ent.Location.SegmentID)}
		}
		rec, err := seg.ReadAt(ent.Location)
		if err != nil {
			return newError("snapshot", []byte(ent.Key), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Levels describes the live segments, level 0 first.
func (e *Engine) Levels() [][]SegmentInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([][]SegmentInfo, len(e.levels))
	for level, segs := range e.levels {
		out[level] = make([]SegmentInfo, 0, len(segs))
		for _, seg := range segs {
			out[level] = append(out[level], seg.info(level))
		}
	}
	return out
}

// Stats returns current statistics as a snapshot
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	perLevel := make([]int, len(e.levels))
	total := 0
	for i, level := range e.levels {
		perLevel[i] = len(level)
		total += len(level)
	}
	e.mu.RUnlock()

	hits, misses, _ := e.cache.Stats()

	return Stats{
		Writes:           e.stats.WriteCount.Load(),
		Reads:            e.stats.ReadCount.Load(),
		Misses:           e.stats.MissCount.Load(),
		Flushes:          e.stats.FlushCount.Load(),
		FlushFailures:    e.stats.FlushFailures.Load(),
		Compactions:      e.stats.CompactionCount.Load(),
		RecordsDropped:   e.stats.RecordsDropped.Load(),
		WALBytes:         e.stats.WALBytes.Load(),
		SegmentsDeleted:  e.stats.SegmentsDeleted.Load(),
		MemTableEntries:  e.memTable.Len(),
		MemTableBytes:    e.memTable.Size(),
		IndexEntries:     e.index.Len(),
		Segments:         total,
		SegmentsPerLevel: perLevel,
		CacheEntries:     e.cache.Len(),
		CacheHits:        hits,
		CacheMisses:      misses,
	}
}

// Close stops background workers, releases the segments and closes the
// WAL. The MemTable is not flushed: its contents stay in the WAL and are
// replayed on the next Open.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Stop workers
	close(e.stopChan)
	e.wg.Wait()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	e.releaseSegments()
	e.mu.Unlock()

	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("failed to close WAL: %w", err)
	}
	e.logger.Info("engine closed")
	return nil
}

// releaseSegments drops the engine's reference on every live segment.
func (e *Engine) releaseSegments() {
	for id, seg := range e.segments {
		seg.release()
		delete(e.segments, id)
	}
	e.levels = nil
}
