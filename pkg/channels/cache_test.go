package channels

import (
	"fmt"
	"testing"
)

func TestFIFOCacheEvictsOldest(t *testing.T) {
	c := newFIFOCache(3)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("c", "3")
	c.Put("d", "4")

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should be evicted first")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("entry %q should survive eviction", key)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestFIFOCacheUpdateKeepsOrder(t *testing.T) {
	c := newFIFOCache(2)
	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("a", "updated")
	c.Put("c", "3")

	// "a" was refreshed in place, so "a" is still the oldest insertion
	// and gets evicted when "c" arrives.
	if _, ok := c.Get("a"); ok {
		t.Error("updated entry keeps its insertion slot")
	}
	if v, _ := c.Get("b"); v != "2" {
		t.Errorf("Get(b) = %q, want 2", v)
	}
}

func TestDedupSetEvictsHalf(t *testing.T) {
	d := newDedupSet(10)
	for i := 0; i < 10; i++ {
		if d.Seen(fmt.Sprintf("id-%d", i)) {
			t.Fatalf("fresh id id-%d reported as seen", i)
		}
	}

	// Capacity reached; the next insert sweeps out the oldest half.
	if d.Seen("id-10") {
		t.Fatal("fresh id reported as seen at capacity")
	}
	if d.Len() != 6 {
		t.Errorf("Len() = %d after sweep, want 6", d.Len())
	}
	if !d.Seen("id-7") {
		t.Error("recent id-7 should still be remembered")
	}
	if d.Seen("id-2") {
		t.Error("evicted id-2 should be insertable again")
	}
}

func TestDedupSetEmptyID(t *testing.T) {
	d := newDedupSet(10)
	if d.Seen("") || d.Seen("") {
		t.Error("empty ids are never deduplicated")
	}
}
