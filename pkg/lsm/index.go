package lsm

import (
	"sort"
	"sync"
)

// Location addresses one encoded record inside a segment file.
type Location struct {
	SegmentID uint64
	Offset    int64
	Length    int
}

// Index maps every flushed key to the location of its newest record.
// Entries are only created by a flush and only rewritten by compaction.
type Index struct {
	mu      sync.RWMutex
	entries map[string]Location
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[string]Location)}
}

// Record inserts or overwrites the location for key.
func (idx *Index) Record(key []byte, loc Location) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[string(key)] = loc
}

// Lookup returns the location for key.
func (idx *Index) Lookup(key []byte) (Location, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.entries[string(key)]
	return loc, ok
}

// Remap points key at loc, but only while its current entry still lives in
// one of the from segments. It reports whether the entry changed.
func (idx *Index) Remap(key []byte, loc Location, from map[uint64]struct{}) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur, ok := idx.entries[string(key)]
	if !ok {
		return false
	}
	if _, in := from[cur.SegmentID]; !in {
		return false
	}
	idx.entries[string(key)] = loc
	return true
}

// Len returns the number of indexed keys.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// IndexEntry is one key/location pair from Sorted.
type IndexEntry struct {
	Key      string
	Location Location
}

// Sorted returns a copy of every entry in ascending key order.
func (idx *Index) Sorted() []IndexEntry {
	idx.mu.RLock()
	out := make([]IndexEntry, 0, len(idx.entries))
	for k, loc := range idx.entries {
		out = append(out, IndexEntry{Key: k, Location: loc})
	}
	idx.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
