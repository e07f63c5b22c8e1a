// Package fsutil holds the small file primitives the log and segment layers
// share: an append handle that can be atomically replaced, and durable
// whole-file writes.
package fsutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// FileRotator owns an append-only file handle and can atomically replace
// the file with an empty one.
type FileRotator struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	bufferSize int
}

// NewFileRotator creates a new file rotator for the given path.
// bufferSize controls the bufio.Writer buffer size (0 = default).
func NewFileRotator(path string, bufferSize int) *FileRotator {
	return &FileRotator{
		path:       path,
		bufferSize: bufferSize,
	}
}

// Open opens or creates the file for appending.
func (fr *FileRotator) Open() error {
	file, err := os.OpenFile(fr.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", fr.path, err)
	}
	fr.attach(file)
	return nil
}

func (fr *FileRotator) attach(file *os.File) {
	fr.file = file
	if fr.bufferSize > 0 {
		fr.writer = bufio.NewWriterSize(file, fr.bufferSize)
	} else {
		fr.writer = bufio.NewWriter(file)
	}
}

// Path returns the file path.
func (fr *FileRotator) Path() string {
	return fr.path
}

// File returns the underlying file handle.
func (fr *FileRotator) File() *os.File {
	return fr.file
}

// Writer returns the buffered writer.
func (fr *FileRotator) Writer() *bufio.Writer {
	return fr.writer
}

// Flush flushes the buffered writer.
func (fr *FileRotator) Flush() error {
	if fr.writer == nil {
		return nil
	}
	return fr.writer.Flush()
}

// Sync flushes the buffer and syncs the file to disk.
func (fr *FileRotator) Sync() error {
	if err := fr.Flush(); err != nil {
		return err
	}
	if fr.file == nil {
		return nil
	}
	return fr.file.Sync()
}

// Truncate discards buffered data and cuts the file to size bytes.
func (fr *FileRotator) Truncate(size int64) error {
	if fr.file == nil {
		return fmt.Errorf("file %s is not open", fr.path)
	}
	fr.writer.Reset(fr.file)
	if err := fr.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", fr.path, err)
	}
	return fr.file.Sync()
}

// Close flushes, syncs, and closes the file.
func (fr *FileRotator) Close() error {
	if err := fr.Sync(); err != nil {
		return err
	}
	if fr.file == nil {
		return nil
	}
	err := fr.file.Close()
	fr.file = nil
	fr.writer = nil
	return err
}

// Rotate atomically replaces the current file with a new empty file.
// On failure the rotator keeps (or reopens) the original file.
func (fr *FileRotator) Rotate() error {
	if fr.file == nil {
		return fmt.Errorf("no file to rotate")
	}

	if err := fr.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotate: %w", err)
	}

	newPath := fr.path + ".new"

	newFile, err := os.OpenFile(newPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create new file: %w", err)
	}
	if err := newFile.Sync(); err != nil {
		newFile.Close()
		os.Remove(newPath)
		return fmt.Errorf("failed to sync new file: %w", err)
	}

	if err := os.Rename(newPath, fr.path); err != nil {
		newFile.Close()
		os.Remove(newPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	if err := SyncDir(filepath.Dir(fr.path)); err != nil {
		// The rename happened; the old handle now points at an unlinked file.
		fr.file.Close()
		fr.attach(newFile)
		return fmt.Errorf("failed to sync directory after rotate: %w", err)
	}

	closeErr := fr.file.Close()
	fr.attach(newFile)
	if closeErr != nil {
		return fmt.Errorf("rotated, but closing old file failed: %w", closeErr)
	}
	return nil
}

// WriteFileAtomic writes data to path through a synced temp file and a
// rename, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return SyncDir(filepath.Dir(path))
}

// SyncDir fsyncs a directory so that renames and creations inside it are
// durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of a file in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
