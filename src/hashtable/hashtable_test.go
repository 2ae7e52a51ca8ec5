package hashtable

import (
	"sync"
	"testing"
)

func TestSetGetDel(t *testing.T) {
	ht := Mk[uint64, int](64)
	ht.Set(42, 7)
	v, ok := ht.Get(42)
	if !ok || v != 7 {
		t.Fatalf("Get(42) = %d, %v", v, ok)
	}
	ht.Set(42, 8)
	if v, _ := ht.Get(42); v != 8 {
		t.Fatalf("expected overwrite to 8, got %d", v)
	}
	if !ht.Del(42) {
		t.Fatal("Del of present key returned false")
	}
	if _, ok := ht.Get(42); ok {
		t.Fatal("expected key gone after Del")
	}
	if ht.Del(42) {
		t.Fatal("Del of absent key returned true")
	}
}

func TestSizeTracksInsertsAndDeletes(t *testing.T) {
	ht := Mk[uint64, int](16)
	for i := uint64(0); i < 100; i++ {
		ht.Set(i, int(i))
	}
	if ht.Size() != 100 {
		t.Fatalf("expected size 100, got %d", ht.Size())
	}
	for i := uint64(0); i < 50; i++ {
		ht.Del(i)
	}
	if ht.Size() != 50 {
		t.Fatalf("expected size 50, got %d", ht.Size())
	}
	for i := uint64(50); i < 100; i++ {
		if v, ok := ht.Get(i); !ok || v != int(i) {
			t.Fatalf("lost key %d after deletes", i)
		}
	}
}

func TestStringKeys(t *testing.T) {
	ht := Mk[string, uint64](8)
	ht.Set("idle", 0)
	ht.Set("reaper", 3)
	if v, ok := ht.Get("reaper"); !ok || v != 3 {
		t.Fatalf(`Get("reaper") = %d, %v`, v, ok)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ht := Mk[uint64, int](32)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				ht.Set(uint64(w*1000+i), i)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			ht.Get(uint64(i))
		}
	}()
	wg.Wait()
	if ht.Size() != 800 {
		t.Fatalf("expected 800 entries, got %d", ht.Size())
	}
}
