package lsm

import (
	"bytes"
	"sort"
)

// CompactionStrategy defines how segments are compacted
type CompactionStrategy interface {
	SelectCompaction(levels [][]*Segment) *CompactionPlan
}

// CompactionPlan describes which segments to compact
type CompactionPlan struct {
	Level       int
	Segments    []*Segment
	OutputLevel int
}

// LeveledCompactionStrategy merges a whole level into the next one once it
// holds more than FileLimit segments. The last level is merged into itself,
// but only while its segments overlap: a non-overlapping last level holds no
// shadowed records and cannot shrink.
//
// Taking every segment of the level keeps the recency order simple: level L
// is always newer than level L+1, and within a level a higher id is newer.
type LeveledCompactionStrategy struct {
	FileLimit int // Max segments per level before compaction
	MaxLevels int // Number of levels, at least 1
}

// DefaultLeveledCompaction returns default leveled compaction config
func DefaultLeveledCompaction() *LeveledCompactionStrategy {
	return &LeveledCompactionStrategy{
		FileLimit: 4,
		MaxLevels: 4,
	}
}

// SelectCompaction picks the first level, from 0 upward, that is over the
// file limit.
func (lcs *LeveledCompactionStrategy) SelectCompaction(levels [][]*Segment) *CompactionPlan {
	maxLevels := lcs.MaxLevels
	if maxLevels < 1 {
		maxLevels = 1
	}

	for level := 0; level < len(levels) && level < maxLevels; level++ {
		if len(levels[level]) <= lcs.FileLimit {
			continue
		}

		output := level + 1
		if output >= maxLevels {
			if disjoint(levels[level]) {
				continue
			}
			output = level
		}
		segments := make([]*Segment, len(levels[level]))
		copy(segments, levels[level])

		return &CompactionPlan{
			Level:       level,
			Segments:    segments,
			OutputLevel: output,
		}
	}

	return nil // No compaction needed
}

// disjoint reports whether no two segments share part of their key range.
func disjoint(segments []*Segment) bool {
	ordered := make([]*Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.records > 0 {
			ordered = append(ordered, seg)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].firstKey, ordered[j].firstKey) < 0
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].overlaps(ordered[i]) {
			return false
		}
	}
	return true
}

// CompactionStats tracks compaction metrics
type CompactionStats struct {
	RecordsRead    int64
	RecordsWritten int64
	RecordsDropped int64 // Shadowed keys removed
	BytesRead      int64
	BytesWritten   int64
}
