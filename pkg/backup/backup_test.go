package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/lsm"
	"github.com/dd0wney/cluso-kv/pkg/record"
)

type sliceSource []record.Record

func (s sliceSource) Snapshot(fn func(rec record.Record) error) error {
	for _, rec := range s {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type mapSink map[string]string

func (m mapSink) Set(key, value []byte) error {
	m[string(key)] = string(value)
	return nil
}

func openEngine(t *testing.T) *lsm.Engine {
	t.Helper()
	dir := t.TempDir()
	opts := lsm.DefaultOptions(filepath.Join(dir, "wal"), filepath.Join(dir, "segments"))
	opts.FlushThreshold = 16
	engine, err := lsm.Open(opts, logging.NewNopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestExportImport_Engine(t *testing.T) {
	src := openEngine(t)
	want := make(map[string]string)
	for i := 0; i < 100; i++ {
		k, v := fmt.Sprintf("key-%03d", i), fmt.Sprintf("value-%d", i)
		require.NoError(t, src.Set([]byte(k), []byte(v)))
		want[k] = v
	}
	// Overwrite a flushed key so the snapshot must pick the newest value.
	require.NoError(t, src.Set([]byte("key-000"), []byte("newest")))
	want["key-000"] = "newest"

	var buf bytes.Buffer
	stats, err := Export(src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Records)
	assert.Equal(t, 1, stats.Blocks)

	dst := openEngine(t)
	imported, err := Import(&buf, dst)
	require.NoError(t, err)
	assert.Equal(t, 100, imported.Records)

	for k, v := range want {
		got, err := dst.Get([]byte(k))
		require.NoError(t, err, k)
		assert.Equal(t, v, string(got))
	}
}

func TestExport_SplitsBlocks(t *testing.T) {
	var recs sliceSource
	value := strings.Repeat("v", 255)
	for i := 0; i < 600; i++ {
		recs = append(recs, record.New([]byte(fmt.Sprintf("k%04d", i)), []byte(value)))
	}

	var buf bytes.Buffer
	stats, err := Export(recs, &buf)
	require.NoError(t, err)
	assert.Greater(t, stats.Blocks, 1)

	sink := mapSink{}
	imported, err := Import(&buf, sink)
	require.NoError(t, err)
	assert.Equal(t, stats.Blocks, imported.Blocks)
	assert.Len(t, sink, 600)
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Export(sliceSource{}, &buf)
	require.NoError(t, err)
	assert.Zero(t, stats.Records)

	imported, err := Import(&buf, mapSink{})
	require.NoError(t, err)
	assert.Zero(t, imported.Records)
}

func TestExport_SourceError(t *testing.T) {
	_, err := Export(failingSource{}, io.Discard)
	assert.ErrorContains(t, err, "snapshot failed")
}

type failingSource struct{}

func (failingSource) Snapshot(fn func(rec record.Record) error) error {
	return errors.New("segment unreadable")
}

func snapshotBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := Export(sliceSource{
		record.New([]byte("foo"), []byte("bar")),
		record.New([]byte("tadashi"), []byte("mizu")),
	}, &buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestImport_Corruption(t *testing.T) {
	good := snapshotBytes(t)

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte("NOTASNAP"), good[8:]...)
		_, err := Import(bytes.NewReader(bad), mapSink{})
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[9] = 9
		_, err := Import(bytes.NewReader(bad), mapSink{})
		assert.ErrorIs(t, err, ErrBadVersion)
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		// header(10) + count(4) + len(4) puts the payload at 18
		bad[18] ^= 0xff
		sink := mapSink{}
		_, err := Import(bytes.NewReader(bad), sink)
		assert.ErrorIs(t, err, ErrChecksum)
		assert.Empty(t, sink)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Import(bytes.NewReader(good[:len(good)-2]), mapSink{})
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("oversized decoded length", func(t *testing.T) {
		// A valid checksum over a snappy header claiming 1GiB.
		var bad bytes.Buffer
		bad.Write(good[:10])
		payload := binary.AppendUvarint(nil, 1<<30)
		payload = append(payload, 0x00, 'x')
		require.NoError(t, writeBlock(&bad, 1, payload))
		require.NoError(t, binary.Write(&bad, binary.BigEndian, uint32(0)))

		sink := mapSink{}
		_, err := Import(bytes.NewReader(bad.Bytes()), sink)
		assert.ErrorIs(t, err, ErrCorrupt)
		assert.ErrorContains(t, err, "decoded length")
		assert.Empty(t, sink)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := Import(bytes.NewReader(nil), mapSink{})
		assert.ErrorIs(t, err, ErrBadMagic)
	})
}

func TestExportFileImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snaps", "kv.snap")

	stats, err := ExportFile(sliceSource{record.New([]byte("a"), []byte("1"))}, path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.NoFileExists(t, path+".tmp")

	sink := mapSink{}
	_, err = ImportFile(path, sink)
	require.NoError(t, err)
	assert.Equal(t, mapSink{"a": "1"}, sink)

	_, err = ImportFile(filepath.Join(t.TempDir(), "missing.snap"), sink)
	assert.Error(t, err)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(ctx context.Context, key string, body io.ReadSeeker) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestUploadDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.snap")
	_, err := ExportFile(sliceSource{record.New([]byte("foo"), []byte("bar"))}, path)
	require.NoError(t, err)

	store := &memStore{objects: make(map[string][]byte)}
	key, err := Upload(context.Background(), store, path, "nightly", logging.NewNopLogger())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "nightly/"), key)
	assert.True(t, strings.HasSuffix(key, ".snap"), key)

	sink := mapSink{}
	stats, err := Download(context.Background(), store, key, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, "bar", sink["foo"])

	_, err = Download(context.Background(), store, "nightly/absent.snap", sink)
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	a := ObjectKey("backups/", now)
	b := ObjectKey("backups/", now)

	assert.True(t, strings.HasPrefix(a, "backups/20240301T123000Z-"), a)
	assert.NotEqual(t, a, b)
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)
}
