package lsm

import (
	"sync"

	"github.com/huandu/skiplist"

	"github.com/dd0wney/cluso-kv/pkg/record"
	"github.com/dd0wney/cluso-kv/pkg/wal"
)

// MemTable is the in-memory write buffer, ordered by byte-wise key order.
// Every Set is appended to the WAL before it becomes visible.
type MemTable struct {
	// wmu serialises Set so WAL order matches insertion order.
	wmu sync.Mutex

	mu   sync.RWMutex
	data *skiplist.SkipList
	wal  wal.Appender
	size int // Approximate size in bytes
}

// NewMemTable creates a new MemTable that logs to w.
func NewMemTable(w wal.Appender) *MemTable {
	return &MemTable{
		data: skiplist.New(skiplist.Bytes),
		wal:  w,
	}
}

// Set durably appends the pair to the WAL and then inserts it, replacing any
// previous value. If the append fails the table is left unchanged.
func (mt *MemTable) Set(key, value []byte) error {
	rec := record.New(key, value)

	mt.wmu.Lock()
	defer mt.wmu.Unlock()

	if err := mt.wal.Append(rec); err != nil {
		return err
	}

	mt.mu.Lock()
	mt.put(rec)
	mt.mu.Unlock()
	return nil
}

// put inserts without logging. Caller holds mu.
func (mt *MemTable) put(rec record.Record) {
	if elem := mt.data.Get(rec.Key); elem != nil {
		mt.size -= len(elem.Value.([]byte))
		mt.size += len(rec.Value)
	} else {
		mt.size += len(rec.Key) + len(rec.Value)
	}
	mt.data.Set(rec.Key, rec.Value)
}

// Get returns the value for key.
func (mt *MemTable) Get(key []byte) ([]byte, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	elem := mt.data.Get(key)
	if elem == nil {
		return nil, false
	}
	return elem.Value.([]byte), true
}

// Len returns the number of distinct keys.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.data.Len()
}

// Size returns the approximate size in bytes.
func (mt *MemTable) Size() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Entries returns a sorted copy of the contents.
func (mt *MemTable) Entries() []record.Record {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.collect()
}

// DrainSorted returns the contents in ascending key order and empties the
// table. The WAL is not touched.
func (mt *MemTable) DrainSorted() []record.Record {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	records := mt.collect()
	mt.data.Init()
	mt.size = 0
	return records
}

func (mt *MemTable) collect() []record.Record {
	records := make([]record.Record, 0, mt.data.Len())
	for elem := mt.data.Front(); elem != nil; elem = elem.Next() {
		records = append(records, record.Record{
			Key:   elem.Key().([]byte),
			Value: elem.Value.([]byte),
		})
	}
	return records
}

// Restore inserts records in order without logging them. It is used to
// replay the WAL at startup and to put back a run whose flush failed.
func (mt *MemTable) Restore(records []record.Record) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	for _, rec := range records {
		mt.put(rec)
	}
}
