// Package wal implements the append-only durability log that mirrors every
// SET since the last flush. The file is a plain stream of encoded records.
package wal

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/dd0wney/cluso-kv/pkg/fsutil"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/record"
)

// FileName is the name of the log file inside the WAL directory.
const FileName = "wal.dat"

// ErrClosed is returned by operations on a closed WAL.
var ErrClosed = errors.New("wal: closed")

// WAL is a Write-Ahead Log for durability
type WAL struct {
	mu     sync.Mutex
	file   *fsutil.FileRotator
	logger logging.Logger

	// good is the offset just past the last complete record. When torn is
	// set the file holds garbage after good, which is cut before the next
	// append.
	good    int64
	torn    bool
	scanned bool
	closed  bool
}

// Open opens or creates <dir>/wal.dat.
func Open(dir string, logger logging.Logger) (*WAL, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	rot := fsutil.NewFileRotator(filepath.Join(dir, FileName), 0)
	if err := rot.Open(); err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &WAL{
		file:   rot,
		logger: logging.OrNop(logger).With(logging.Component("wal")),
	}, nil
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.file.Path()
}

// Append encodes rec, writes it to the end of the log and fsyncs.
func (w *WAL) Append(rec record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	buf, err := record.Encode(rec.Key, rec.Value)
	if err != nil {
		return err
	}

	if !w.scanned {
		if _, err := w.scan(); err != nil {
			return err
		}
	}
	if w.torn {
		if err := w.file.Truncate(w.good); err != nil {
			return fmt.Errorf("failed to truncate torn WAL tail: %w", err)
		}
		w.logger.Warn("truncated torn WAL tail", logging.Offset(w.good))
		w.torn = false
	}

	if _, err := w.file.Writer().Write(buf); err != nil {
		w.torn = true
		return fmt.Errorf("failed to write WAL record: %w", err)
	}

	// Flush to disk for durability
	if err := w.file.Sync(); err != nil {
		w.torn = true
		return fmt.Errorf("failed to sync WAL: %w", err)
	}

	w.good += int64(len(buf))
	return nil
}

// Replay reads the log from the start and returns every complete record in
// append order. A malformed tail ends the replay: the records before it are
// returned without error and a warning is logged.
func (w *WAL) Replay() ([]record.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	return w.scan()
}

// scan reads the whole file and resets good/torn. Caller holds mu.
func (w *WAL) scan() ([]record.Record, error) {
	if err := w.file.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush WAL before read: %w", err)
	}

	f := w.file.File()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat WAL: %w", err)
	}
	size := info.Size()

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read WAL: %w", err)
	}

	records, err := record.Decode(buf)
	w.scanned = true
	w.good = size
	w.torn = false

	if err != nil {
		var ce *record.CodecError
		if !errors.As(err, &ce) {
			return nil, err
		}
		w.good = int64(ce.Offset)
		w.torn = true
		w.logger.Warn("WAL recovery stopped at malformed record",
			logging.Offset(int64(ce.Offset)),
			logging.Count(len(records)),
			logging.Int64("discarded_bytes", size-int64(ce.Offset)),
			logging.Error(err))
	}

	return records, nil
}

// Clear atomically replaces the log with an empty file.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := w.file.Rotate(); err != nil {
		return fmt.Errorf("failed to clear WAL: %w", err)
	}
	w.good = 0
	w.torn = false
	w.scanned = true
	return nil
}

// Sync flushes buffered data and fsyncs the log.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	return w.file.Sync()
}

// Size returns the number of valid bytes in the log. Before the first
// Replay or Append it is the raw file size.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.scanned {
		return w.good
	}
	size, err := fsutil.FileSize(w.file.Path())
	if err != nil {
		return 0
	}
	return size
}

// Close flushes any buffered data and closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
