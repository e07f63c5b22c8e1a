package lsm

import (
	"container/list"
	"sync"
)

// ReadCache is an LRU cache of values read from segments.
//
// Every invalidation bumps an epoch. A reader captures the epoch before it
// looks a key up and passes it to PutIfCurrent, so a value read from disk
// is dropped if a write touched the cache in between.
type ReadCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	epoch    uint64

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	key   string
	value []byte
}

// NewReadCache creates a new LRU read cache. A capacity of zero or less
// disables it.
func NewReadCache(capacity int) *ReadCache {
	return &ReadCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Enabled reports whether the cache stores anything.
func (rc *ReadCache) Enabled() bool {
	return rc.capacity > 0
}

// Epoch returns the current invalidation epoch.
func (rc *ReadCache) Epoch() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.epoch
}

// Get retrieves a value from the cache
func (rc *ReadCache) Get(key string) ([]byte, bool) {
	if !rc.Enabled() {
		return nil, false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if elem, ok := rc.cache[key]; ok {
		// Move to front (most recently used)
		rc.lru.MoveToFront(elem)
		rc.hits++
		return elem.Value.(*cacheEntry).value, true
	}

	rc.misses++
	return nil, false
}

// PutIfCurrent adds a value unless the cache was invalidated after epoch.
func (rc *ReadCache) PutIfCurrent(key string, value []byte, epoch uint64) bool {
	if !rc.Enabled() {
		return false
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.epoch != epoch {
		return false
	}

	// Check if key already exists
	if elem, ok := rc.cache[key]; ok {
		rc.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return true
	}

	elem := rc.lru.PushFront(&cacheEntry{key: key, value: value})
	rc.cache[key] = elem

	// Evict if over capacity
	if rc.lru.Len() > rc.capacity {
		rc.evict()
	}
	return true
}

// evict removes the least recently used entry
func (rc *ReadCache) evict() {
	elem := rc.lru.Back()
	if elem != nil {
		rc.lru.Remove(elem)
		entry := elem.Value.(*cacheEntry)
		delete(rc.cache, entry.key)
	}
}

// Invalidate removes key and bumps the epoch.
func (rc *ReadCache) Invalidate(key string) {
	if !rc.Enabled() {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.epoch++
	if elem, ok := rc.cache[key]; ok {
		rc.lru.Remove(elem)
		delete(rc.cache, key)
	}
}

// Clear removes all entries from the cache
func (rc *ReadCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.epoch++
	rc.cache = make(map[string]*list.Element)
	rc.lru = list.New()
}

// Stats returns cache statistics
func (rc *ReadCache) Stats() (hits, misses int64, hitRate float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	hits = rc.hits
	misses = rc.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// Len returns the current number of entries
func (rc *ReadCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lru.Len()
}
