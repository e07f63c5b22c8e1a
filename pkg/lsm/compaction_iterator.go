package lsm

import (
	"bytes"

	"github.com/dd0wney/cluso-kv/pkg/record"
)

// SegmentIterator iterates over the records of one segment
type SegmentIterator struct {
	seg     *Segment
	records []record.Record
	index   int
}

// NewSegmentIterator creates an iterator for a segment
func NewSegmentIterator(seg *Segment) (*SegmentIterator, error) {
	records, err := seg.All()
	if err != nil {
		return nil, err
	}

	return &SegmentIterator{
		seg:     seg,
		records: records,
	}, nil
}

// Next advances the iterator
func (it *SegmentIterator) Next() (record.Record, bool) {
	if it.index >= len(it.records) {
		return record.Record{}, false
	}

	rec := it.records[it.index]
	it.index++
	return rec, true
}

// Peek returns current record without advancing
func (it *SegmentIterator) Peek() (record.Record, bool) {
	if it.index >= len(it.records) {
		return record.Record{}, false
	}
	return it.records[it.index], true
}

// MergeIterator merges several sorted segments into one sorted stream with
// one record per key. For a key present in more than one segment the record
// from the segment with the highest id wins.
type MergeIterator struct {
	iterators []*SegmentIterator
	dropped   int64
}

// NewMergeIterator creates an iterator that merges multiple segments
func NewMergeIterator(segments []*Segment) (*MergeIterator, error) {
	iterators := make([]*SegmentIterator, 0, len(segments))

	for _, seg := range segments {
		it, err := NewSegmentIterator(seg)
		if err != nil {
			return nil, err
		}
		iterators = append(iterators, it)
	}

	return &MergeIterator{
		iterators: iterators,
	}, nil
}

// Next returns the winning record for the next smallest key.
func (mi *MergeIterator) Next() (record.Record, uint64, bool) {
	var winner record.Record
	var winnerID uint64
	found := false

	// Find minimum key across all iterators
	for _, it := range mi.iterators {
		rec, ok := it.Peek()
		if !ok {
			continue
		}

		if !found {
			winner, winnerID, found = rec, it.seg.id, true
			continue
		}
		cmp := bytes.Compare(rec.Key, winner.Key)
		if cmp < 0 || (cmp == 0 && it.seg.id > winnerID) {
			winner, winnerID = rec, it.seg.id
		}
	}

	if !found {
		return record.Record{}, 0, false
	}

	// Advance every iterator positioned on this key
	for _, it := range mi.iterators {
		rec, ok := it.Peek()
		if ok && bytes.Equal(rec.Key, winner.Key) {
			it.Next()
			if it.seg.id != winnerID {
				mi.dropped++
			}
		}
	}
	return winner, winnerID, true
}

// Dropped returns how many shadowed records have been skipped so far.
func (mi *MergeIterator) Dropped() int64 {
	return mi.dropped
}
