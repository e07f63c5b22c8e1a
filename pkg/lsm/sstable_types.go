package lsm

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/exp/mmap"
)

// Segment file format: a bare stream of encoded records in ascending key
// order, exactly as produced by one flush or one compaction output. There is
// no header or footer; the Index and the MANIFEST carry all metadata.

const segmentSuffix = "_sstable.dat"

// Segment is an immutable, memory-mapped segment file.
//
// Segments are reference counted. The engine holds one reference while the
// segment is live and every in-flight read holds another. A segment marked
// obsolete by compaction is unmapped and deleted when the last reference
// goes away.
type Segment struct {
	id      uint64
	path    string
	reader  *mmap.ReaderAt
	size    int64
	records int

	// Smallest and largest key in the file.
	firstKey []byte
	lastKey  []byte

	refs     atomic.Int32
	obsolete atomic.Bool
	onClose func(s *Segment, err error)
}

// SegmentInfo describes a live segment.
type SegmentInfo struct {
	ID      uint64
	Level   int
	Path    string
	Size    int64
	Records int
}

// SegmentPath returns <dir>/<id>_sstable.dat.
func SegmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", id, segmentSuffix))
}

// ParseSegmentName returns the id encoded in a segment file name.
func ParseSegmentName(name string) (uint64, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, segmentSuffix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(base, segmentSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ID returns the segment id.
func (s *Segment) ID() uint64 { return s.id }

// Path returns the segment file path.
func (s *Segment) Path() string { return s.path }

// Size returns the file size in bytes.
func (s *Segment) Size() int64 { return s.size }

// Records returns the number of records in the file.
func (s *Segment) Records() int { return s.records }

// setBounds records the key range of a segment written in ascending order.
func (s *Segment) setBounds(first, last []byte) {
	s.firstKey = bytes.Clone(first)
	s.lastKey = bytes.Clone(last)
}

// overlaps reports whether the key ranges of s and o intersect. An empty
// segment overlaps nothing.
func (s *Segment) overlaps(o *Segment) bool {
	if s.records == 0 || o.records == 0 {
		return false
	}
	return bytes.Compare(s.firstKey, o.lastKey) <= 0 && bytes.Compare(o.firstKey, s.lastKey) <= 0
}

func (s *Segment) info(level int) SegmentInfo {
	return SegmentInfo{
		ID:      s.id,
		Level:   level,
		Path:    s.path,
		Size:    s.size,
		Records: s.records,
	}
}
