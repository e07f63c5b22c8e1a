package lsm

import (
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/record"
)

// Compactor performs segment compaction
type Compactor struct {
	strategy        CompactionStrategy
	dataDir         string
	maxSegmentBytes int64
	nextID          func() uint64
	logger          logging.Logger
}

// NewCompactor creates a new compactor. nextID allocates output segment ids.
func NewCompactor(dataDir string, strategy CompactionStrategy, maxSegmentBytes int64, nextID func() uint64, logger logging.Logger) *Compactor {
	return &Compactor{
		strategy:        strategy,
		dataDir:         dataDir,
		maxSegmentBytes: maxSegmentBytes,
		nextID:          nextID,
		logger:          logging.OrNop(logger),
	}
}

// Plan asks the strategy for the next compaction, if any.
func (c *Compactor) Plan(levels [][]*Segment) *CompactionPlan {
	return c.strategy.SelectCompaction(levels)
}

// Remap is an index update produced by a compaction.
type Remap struct {
	Key      []byte
	Location Location
	From     uint64 // Segment the surviving record came from
}

// CompactionResult holds the durable outputs of one compaction.
type CompactionResult struct {
	Plan    *CompactionPlan
	Outputs []*Segment
	Remaps  []Remap
	Stats   CompactionStats
}

// Compact merges the plan's segments into new, fsynced output segments.
//
// live, when non-nil, reports whether a surviving record is still the
// newest copy of its key anywhere; records it rejects are dropped. The
// inputs are not touched: installing the result is up to the caller.
func (c *Compactor) Compact(plan *CompactionPlan, live func(rec record.Record, segID uint64) bool) (*CompactionResult, error) {
	result := &CompactionResult{Plan: plan}
	if plan == nil || len(plan.Segments) == 0 {
		return result, nil
	}

	for _, seg := range plan.Segments {
		result.Stats.BytesRead += seg.size
	}

	merged, err := NewMergeIterator(plan.Segments)
	if err != nil {
		return nil, err
	}

	batch := make([]record.Record, 0)
	sources := make([]uint64, 0)
	var batchBytes int64

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		seg, locs, err := writeSegment(c.dataDir, c.nextID(), batch)
		if err != nil {
			return err
		}
		result.Outputs = append(result.Outputs, seg)
		for i, rec := range batch {
			result.Remaps = append(result.Remaps, Remap{Key: rec.Key, Location: locs[i], From: sources[i]})
		}
		result.Stats.RecordsWritten += int64(len(batch))
		result.Stats.BytesWritten += seg.size
		batch = make([]record.Record, 0)
		sources = sources[:0]
		batchBytes = 0
		return nil
	}

	var shadowed int64
	for {
		rec, segID, ok := merged.Next()
		if !ok {
			break
		}
		if live != nil && !live(rec, segID) {
			shadowed++
			continue
		}

		size := int64(rec.EncodedLen())
		if c.maxSegmentBytes > 0 && batchBytes+size > c.maxSegmentBytes && len(batch) > 0 {
			if err := flushBatch(); err != nil {
				c.discard(result.Outputs)
				return nil, err
			}
		}
		batch = append(batch, rec)
		sources = append(sources, segID)
		batchBytes += size
	}

	if err := flushBatch(); err != nil {
		c.discard(result.Outputs)
		return nil, err
	}

	result.Stats.RecordsDropped = merged.Dropped() + shadowed
	result.Stats.RecordsRead = result.Stats.RecordsWritten + result.Stats.RecordsDropped

	c.logger.Debug("compaction merged segments",
		logging.SegmentLevel(plan.Level),
		logging.Int("inputs", len(plan.Segments)),
		logging.Int("outputs", len(result.Outputs)),
		logging.Int64("records_dropped", result.Stats.RecordsDropped))

	return result, nil
}

// discard removes outputs of a compaction that will not be installed.
func (c *Compactor) discard(outputs []*Segment) {
	for _, seg := range outputs {
		seg.retire()
	}
}
