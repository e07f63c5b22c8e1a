package lsm

import (
	"time"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
	"github.com/dd0wney/cluso-kv/pkg/record"
)

// triggerCompaction signals the compaction worker
func (e *Engine) triggerCompaction() {
	if !e.opts.EnableAutoCompaction {
		return
	}
	select {
	case e.compactionChan <- struct{}{}:
	default:
	}
}

// compactionWorker runs compactions after flushes and, optionally, on an
// interval.
func (e *Engine) compactionWorker() {
	defer e.wg.Done()

	var tick <-chan time.Time
	if e.opts.CompactionInterval > 0 {
		ticker := time.NewTicker(e.opts.CompactionInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-e.compactionChan:
			e.backgroundCompact()
		case <-tick:
			e.backgroundCompact()
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) backgroundCompact() {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		return
	}
	if err := e.compactLocked(); err != nil {
		e.logger.Error("compaction failed", logging.Error(err))
	}
}

// flushLocked writes the MemTable to a new level-0 segment. Caller holds
// writeMu.
//
// Order: drain into pending, write and fsync the segment, save the
// manifest, publish the index entries, then clear the WAL. On failure the
// drained run goes back into the MemTable and the WAL is left alone.
func (e *Engine) flushLocked() (err error) {
	timer := logging.StartTimer(e.logger, "flush")
	start := time.Now()

	e.mu.Lock()
	run := e.memTable.DrainSorted()
	if len(run) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.pending = run
	id := e.nextID
	e.nextID++
	e.mu.Unlock()

	defer func() {
		if err != nil {
			e.stats.FlushFailures.Add(1)
			e.metrics.RecordFlush(metrics.StatusError, time.Since(start))
			timer.EndError(err)
		}
	}()

	seg, locs, err := writeSegment(e.opts.SegmentDir, id, run)
	if err != nil {
		e.rollbackFlush(run)
		return newError("flush", nil, err)
	}
	seg.onClose = e.segmentClosed

	e.mu.RLock()
	newLevels := cloneLevels(e.levels, 1)
	nextID := e.nextID
	e.mu.RUnlock()
	newLevels[0] = append(newLevels[0], seg)

	if err := manifestFor(newLevels, nextID).Save(e.opts.SegmentDir); err != nil {
		seg.retire()
		e.rollbackFlush(run)
		return newError("flush", nil, err)
	}

	e.mu.Lock()
	for i, rec := range run {
		e.index.Record(rec.Key, locs[i])
	}
	e.segments[seg.id] = seg
	e.levels = newLevels
	e.pending = nil
	e.mu.Unlock()

	// Every record is now durable in the segment.
	if err := e.wal.Clear(); err != nil {
		return newError("flush", nil, err)
	}

	e.stats.FlushCount.Add(1)
	e.metrics.RecordFlush(metrics.StatusSuccess, time.Since(start))
	timer.End(logging.SegmentID(seg.id), logging.Count(len(run)))
	e.publishShape()

	e.triggerCompaction()
	return nil
}

func (e *Engine) rollbackFlush(run []record.Record) {
	e.mu.Lock()
	e.memTable.Restore(run)
	e.pending = nil
	e.mu.Unlock()
}

// compactLocked runs compactions until the strategy has nothing to do.
// Caller holds writeMu.
func (e *Engine) compactLocked() error {
	for i := 0; i < e.opts.CompactionLevels; i++ {
		e.mu.RLock()
		plan := e.compactor.Plan(e.levels)
		e.mu.RUnlock()

		if plan == nil {
			return nil
		}
		if err := e.runCompaction(plan); err != nil {
			return err
		}
		// A last level merged into itself may still be over the limit.
		if plan.Level == plan.OutputLevel {
			return nil
		}
	}
	return nil
}

func (e *Engine) runCompaction(plan *CompactionPlan) (err error) {
	start := time.Now()
	dropped := 0
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		e.metrics.RecordCompaction(plan.Level, status, time.Since(start), dropped)
	}()

	inputs := make(map[uint64]struct{}, len(plan.Segments))
	for _, seg := range plan.Segments {
		inputs[seg.id] = struct{}{}
	}

	// A record whose key the Index already places outside this level is
	// shadowed by newer data and can go.
	live := func(rec record.Record, segID uint64) bool {
		loc, ok := e.index.Lookup(rec.Key)
		if !ok {
			return true
		}
		_, in := inputs[loc.SegmentID]
		return in
	}

	result, err := e.compactor.Compact(plan, live)
	if err != nil {
		return newError("compact", nil, err)
	}
	for _, seg := range result.Outputs {
		seg.onClose = e.segmentClosed
	}

	e.mu.RLock()
	newLevels := cloneLevels(e.levels, plan.OutputLevel+1)
	nextID := e.nextID
	e.mu.RUnlock()

	kept := make([]*Segment, 0, len(newLevels[plan.Level]))
	for _, seg := range newLevels[plan.Level] {
		if _, in := inputs[seg.id]; !in {
			kept = append(kept, seg)
		}
	}
	newLevels[plan.Level] = kept
	newLevels[plan.OutputLevel] = append(newLevels[plan.OutputLevel], result.Outputs...)

	if err := manifestFor(newLevels, nextID).Save(e.opts.SegmentDir); err != nil {
		e.compactor.discard(result.Outputs)
		return newError("compact", nil, err)
	}

	e.mu.Lock()
	for _, r := range result.Remaps {
		e.index.Remap(r.Key, r.Location, inputs)
	}
	for _, seg := range result.Outputs {
		e.segments[seg.id] = seg
	}
	for _, seg := range plan.Segments {
		delete(e.segments, seg.id)
	}
	e.levels = newLevels
	e.mu.Unlock()

	// Readers still holding an input keep it alive until they finish.
	for _, seg := range plan.Segments {
		seg.retire()
	}

	dropped = int(result.Stats.RecordsDropped)
	e.stats.CompactionCount.Add(1)
	e.stats.RecordsDropped.Add(result.Stats.RecordsDropped)

	e.logger.Info("compaction complete",
		logging.SegmentLevel(plan.Level),
		logging.Int("output_level", plan.OutputLevel),
		logging.Int("inputs", len(plan.Segments)),
		logging.Int("outputs", len(result.Outputs)),
		logging.Int64("records_written", result.Stats.RecordsWritten),
		logging.Int64("records_dropped", result.Stats.RecordsDropped),
		logging.Latency(time.Since(start)))
	e.publishShape()
	return nil
}

// cloneLevels copies the level slices so a swap never mutates what a
// reader may be looking at. The result has at least minLen levels.
func cloneLevels(levels [][]*Segment, minLen int) [][]*Segment {
	n := len(levels)
	if n < minLen {
		n = minLen
	}
	out := make([][]*Segment, n)
	for i := range levels {
		out[i] = append([]*Segment(nil), levels[i]...)
	}
	return out
}

// publishShape pushes memtable, index and level sizes to the gauges.
func (e *Engine) publishShape() {
	if e.metrics == nil {
		return
	}
	e.mu.RLock()
	perLevel := make([]int, len(e.levels))
	for i, level := range e.levels {
		perLevel[i] = len(level)
	}
	e.mu.RUnlock()
	e.metrics.UpdateEngineShape(e.memTable.Len(), e.index.Len(), perLevel)
}
