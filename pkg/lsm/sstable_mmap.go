package lsm

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-kv/pkg/record"
)

// openSegment memory-maps an existing segment file. The returned segment
// holds one reference, owned by the caller.
func openSegment(path string, id uint64) (*Segment, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map segment %s: %w", path, err)
	}

	seg := &Segment{
		id:     id,
		path:   path,
		reader: reader,
		size:   int64(reader.Len()),
	}
	seg.refs.Store(1)
	return seg, nil
}

// ReadAt decodes the single record addressed by loc.
func (s *Segment) ReadAt(loc Location) (record.Record, error) {
	if loc.SegmentID != s.id {
		return record.Record{}, fmt.Errorf("location for segment %d read from segment %d", loc.SegmentID, s.id)
	}
	if loc.Offset < 0 || loc.Length <= 0 || loc.Offset+int64(loc.Length) > s.size {
		return record.Record{}, fmt.Errorf("segment %d: range [%d, %d) outside file of %d bytes: %w",
			s.id, loc.Offset, loc.Offset+int64(loc.Length), s.size, io.ErrUnexpectedEOF)
	}

	buf := make([]byte, loc.Length)
	if _, err := s.reader.ReadAt(buf, loc.Offset); err != nil {
		return record.Record{}, fmt.Errorf("segment %d: read at %d: %w", s.id, loc.Offset, err)
	}
	return record.DecodeOne(buf)
}

// Scan decodes the whole file and calls fn for every record with its
// location, in file order. Any malformed byte is an error: segments are
// never partially written.
func (s *Segment) Scan(fn func(rec record.Record, loc Location) error) error {
	buf := make([]byte, s.size)
	if s.size > 0 {
		if _, err := s.reader.ReadAt(buf, 0); err != nil && err != io.EOF {
			return fmt.Errorf("segment %d: read: %w", s.id, err)
		}
	}

	records, err := record.Decode(buf)
	if err != nil {
		return fmt.Errorf("segment %d: %w", s.id, err)
	}

	var offset int64
	for _, rec := range records {
		n := rec.EncodedLen()
		if err := fn(rec, Location{SegmentID: s.id, Offset: offset, Length: n}); err != nil {
			return err
		}
		offset += int64(n)
	}
	return nil
}

// All returns every record in the file.
func (s *Segment) All() ([]record.Record, error) {
	records := make([]record.Record, 0, s.records)
	err := s.Scan(func(rec record.Record, _ Location) error {
		records = append(records, rec)
		return nil
	})
	return records, err
}

// acquire takes a reference. It fails once the count has dropped to zero.
func (s *Segment) acquire() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference and tears the segment down on the last one.
func (s *Segment) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	err := s.reader.Close()
	if s.obsolete.Load() {
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	if s.onClose != nil {
		s.onClose(s, err)
	}
}

// retire marks the segment obsolete and drops the owner's reference. The
// file is deleted once no reader holds it.
func (s *Segment) retire() {
	s.obsolete.Store(true)
	s.release()
}
