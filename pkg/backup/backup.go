// Package backup exports the live key space of an engine to a compressed
// snapshot stream and loads such a stream back.
//
// Snapshot format:
//
//	[magic:8 "CLKVSNAP"][version:2]
//	repeated blocks: [count:4][len:4][snappy(records):len][crc32:4]
//	terminator: [count:4 = 0]
//
// Records inside a block use the record codec, so a block decodes with
// record.Decode. All integers are big endian.
package backup

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-kv/pkg/fsutil"
	"github.com/dd0wney/cluso-kv/pkg/record"
)

const (
	magic   = "CLKVSNAP"
	version = uint16(1)

	// blockSize is the uncompressed size at which a block is cut
	blockSize = 64 * 1024

	// maxBlockLen bounds a compressed block read from untrusted input
	maxBlockLen = 4 * 1024 * 1024

	// maxDecodedLen bounds the length a block header may claim once
	// decompressed. Export never cuts a block past one record over blockSize.
	maxDecodedLen = blockSize + 2*(record.MaxFieldLen+1)
)

var (
	ErrBadMagic    = errors.New("backup: not a snapshot")
	ErrBadVersion  = errors.New("backup: unsupported snapshot version")
	ErrChecksum    = errors.New("backup: block checksum mismatch")
	ErrCorrupt     = errors.New("backup: corrupt block")
	ErrUnsupported = errors.New("backup: block too large")
)

// Source yields every live record once
type Source interface {
	Snapshot(fn func(rec record.Record) error) error
}

// Sink receives restored records
type Sink interface {
	Set(key, value []byte) error
}

// Stats describes one export or import
type Stats struct {
	Records           int
	Blocks            int
	BytesUncompressed int64
	BytesCompressed   int64
}

// Export writes a snapshot of src to w
func Export(src Source, w io.Writer) (Stats, error) {
	var stats Stats
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(magic); err != nil {
		return stats, err
	}
	if err := binary.Write(bw, binary.BigEndian, version); err != nil {
		return stats, err
	}

	buf := make([]byte, 0, maxDecodedLen)
	count := 0

	flushBlock := func() error {
		if count == 0 {
			return nil
		}
		compressed := snappy.Encode(nil, buf)
		if err := writeBlock(bw, uint32(count), compressed); err != nil {
			return err
		}
		stats.Blocks++
		stats.BytesUncompressed += int64(len(buf))
		stats.BytesCompressed += int64(len(compressed))
		buf = buf[:0]
		count = 0
		return nil
	}

	err := src.Snapshot(func(rec record.Record) error {
		var err error
		buf, err = record.AppendEncoded(buf, rec.Key, rec.Value)
		if err != nil {
			return err
		}
		count++
		stats.Records++
		if len(buf) >= blockSize {
			return flushBlock()
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("backup: snapshot failed: %w", err)
	}
	if err := flushBlock(); err != nil {
		return stats, err
	}

	// Terminator
	if err := binary.Write(bw, binary.BigEndian, uint32(0)); err != nil {
		return stats, err
	}
	return stats, bw.Flush()
}

func writeBlock(w io.Writer, count uint32, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, count); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, crc32.ChecksumIEEE(data))
}

// Import reads a snapshot from r and applies every record to dst. Records
// are applied block by block after the block verifies, so a corrupt stream
// stops at the last good block.
func Import(r io.Reader, dst Sink) (Stats, error) {
	var stats Stats
	br := bufio.NewReader(r)

	header := make([]byte, len(magic))
	if _, err := io.ReadFull(br, header); err != nil {
		return stats, ErrBadMagic
	}
	if string(header) != magic {
		return stats, ErrBadMagic
	}
	var v uint16
	if err := binary.Read(br, binary.BigEndian, &v); err != nil {
		return stats, ErrBadMagic
	}
	if v != version {
		return stats, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	for {
		var count, length uint32
		if err := binary.Read(br, binary.BigEndian, &count); err != nil {
			return stats, fmt.Errorf("%w: missing terminator: %v", ErrCorrupt, err)
		}
		if count == 0 {
			return stats, nil
		}
		if err := binary.Read(br, binary.BigEndian, &length); err != nil {
			return stats, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if length > maxBlockLen {
			return stats, ErrUnsupported
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(br, data); err != nil {
			return stats, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		var sum uint32
		if err := binary.Read(br, binary.BigEndian, &sum); err != nil {
			return stats, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if crc32.ChecksumIEEE(data) != sum {
			return stats, ErrChecksum
		}

		n, err := snappy.DecodedLen(data)
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if n > maxDecodedLen {
			return stats, fmt.Errorf("%w: decoded length %d exceeds %d", ErrCorrupt, n, maxDecodedLen)
		}
		raw, err := snappy.Decode(make([]byte, n), data)
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		records, err := record.Decode(raw)
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(records) != int(count) {
			return stats, fmt.Errorf("%w: block holds %d records, header says %d", ErrCorrupt, len(records), count)
		}

		for _, rec := range records {
			if err := dst.Set(rec.Key, rec.Value); err != nil {
				return stats, fmt.Errorf("backup: restore %q: %w", rec.Key, err)
			}
		}
		stats.Records += len(records)
		stats.Blocks++
		stats.BytesCompressed += int64(length)
		stats.BytesUncompressed += int64(len(raw))
	}
}

// ExportFile writes a snapshot to path atomically
func ExportFile(src Source, path string) (Stats, error) {
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return Stats{}, err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to create snapshot file: %w", err)
	}

	stats, err := Export(src, f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return stats, err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return stats, fmt.Errorf("failed to install snapshot file: %w", err)
	}
	return stats, fsutil.SyncDir(filepath.Dir(path))
}

// ImportFile restores the snapshot at path into dst
func ImportFile(path string, dst Sink) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	return Import(f, dst)
}
