package lsm

import (
	"fmt"
	"sync"
	"testing"
)

func TestIndex_RecordLookup(t *testing.T) {
	idx := NewIndex()

	if _, ok := idx.Lookup([]byte("a")); ok {
		t.Fatal("empty index should miss")
	}

	idx.Record([]byte("a"), Location{SegmentID: 1, Offset: 0, Length: 4})
	idx.Record([]byte("a"), Location{SegmentID: 2, Offset: 10, Length: 4})

	loc, ok := idx.Lookup([]byte("a"))
	if !ok {
		t.Fatal("expected hit")
	}
	if loc.SegmentID != 2 || loc.Offset != 10 {
		t.Errorf("overwrite lost: %+v", loc)
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}
}

func TestIndex_Remap(t *testing.T) {
	idx := NewIndex()
	idx.Record([]byte("old"), Location{SegmentID: 1})
	idx.Record([]byte("new"), Location{SegmentID: 9})

	from := map[uint64]struct{}{1: {}, 2: {}}
	target := Location{SegmentID: 5, Offset: 3, Length: 6}

	if !idx.Remap([]byte("old"), target, from) {
		t.Error("entry in an input segment should be remapped")
	}
	if idx.Remap([]byte("new"), target, from) {
		t.Error("entry owned by a newer segment must not be remapped")
	}
	if idx.Remap([]byte("absent"), target, from) {
		t.Error("absent key must not be created by Remap")
	}

	if loc, _ := idx.Lookup([]byte("old")); loc != target {
		t.Errorf("old = %+v, want %+v", loc, target)
	}
	if loc, _ := idx.Lookup([]byte("new")); loc.SegmentID != 9 {
		t.Errorf("new = %+v, want segment 9", loc)
	}
}

func TestIndex_Sorted(t *testing.T) {
	idx := NewIndex()
	for i, k := range []string{"c", "a", "b"} {
		idx.Record([]byte(k), Location{SegmentID: uint64(i)})
	}

	entries := idx.Sorted()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].Key != want {
			t.Errorf("entry %d = %s, want %s", i, entries[i].Key, want)
		}
	}
}

func TestIndex_Concurrent(t *testing.T) {
	idx := NewIndex()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := []byte(fmt.Sprintf("k%d-%d", g, i))
				idx.Record(key, Location{SegmentID: uint64(g)})
				if _, ok := idx.Lookup(key); !ok {
					t.Errorf("lost %s", key)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if idx.Len() != 4000 {
		t.Errorf("Len = %d, want 4000", idx.Len())
	}
}
