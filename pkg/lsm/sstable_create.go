package lsm

import (
	"bufio"
	"fmt"
	"os"

	"github.com/dd0wney/cluso-kv/pkg/fsutil"
	"github.com/dd0wney/cluso-kv/pkg/record"
)

// writeSegment writes records, which must already be in ascending key
// order, to a new segment file and fsyncs it. It returns the opened segment
// and the location of each record, parallel to records. A partial file is
// removed on failure.
func writeSegment(dir string, id uint64, records []record.Record) (*Segment, []Location, error) {
	path := SegmentPath(dir, id)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create segment %s: %w", path, err)
	}

	fail := func(err error) (*Segment, []Location, error) {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, nil, err
	}

	writer := bufio.NewWriter(file)
	locations := make([]Location, len(records))
	buf := make([]byte, 0, 2*(record.MaxFieldLen+1))
	var offset int64

	for i, rec := range records {
		buf, err = record.AppendEncoded(buf[:0], rec.Key, rec.Value)
		if err != nil {
			return fail(err)
		}
		if _, err := writer.Write(buf); err != nil {
			return fail(fmt.Errorf("failed to write segment %s: %w", path, err))
		}
		locations[i] = Location{SegmentID: id, Offset: offset, Length: len(buf)}
		offset += int64(len(buf))
	}

	if err := writer.Flush(); err != nil {
		return fail(fmt.Errorf("failed to flush segment %s: %w", path, err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync segment %s: %w", path, err))
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("failed to close segment %s: %w", path, err)
	}
	if err := fsutil.SyncDir(dir); err != nil {
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("failed to sync segment directory: %w", err)
	}

	seg, err := openSegment(path, id)
	if err != nil {
		_ = os.Remove(path)
		return nil, nil, err
	}
	seg.records = len(records)
	if len(records) > 0 {
		seg.setBounds(records[0].Key, records[len(records)-1].Key)
	}
	return seg, locations, nil
}
