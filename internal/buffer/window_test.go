package buffer

import (
	"fmt"
	"testing"

	"github.com/consultx/consultx/internal/risk"
)

func entry(pos int) Entry {
	return Entry{MessageID: fmt.Sprintf("m%d", pos), Position: pos, Sender: "user", Tier: risk.TierOK}
}

func TestWindowEvictsOldestFirst(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Push(entry(i))
		if w.Len() > 3 {
			t.Fatalf("Len() = %d, want <= 3", w.Len())
		}
	}
	got := w.Entries()
	if len(got) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Position != i+3 {
			t.Fatalf("Entries()[%d].Position = %d, want %d", i, e.Position, i+3)
		}
	}
}

func TestWindowPartiallyFilled(t *testing.T) {
	w := NewWindow(4)
	w.Push(entry(1))
	w.Push(entry(2))
	got := w.Entries()
	if len(got) != 2 || got[0].Position != 1 || got[1].Position != 2 {
		t.Fatalf("Entries() = %+v, want positions [1 2]", got)
	}
}

func TestCacheLoadKeepsLastCapacityEntries(t *testing.T) {
	c := NewCache(2)
	snap := c.Load("s1", []Entry{entry(1), entry(2), entry(3)})
	if snap.Len() != 2 || snap.Entries[0].Position != 2 {
		t.Fatalf("Load() = %+v, want positions [2 3]", snap.Entries)
	}

	c.Push("s1", entry(4))
	got, ok := c.Get("s1")
	if !ok {
		t.Fatalf("Get() ok = false, want true")
	}
	if got.Entries[0].Position != 3 || got.Entries[1].Position != 4 {
		t.Fatalf("Get() = %+v, want positions [3 4]", got.Entries)
	}

	turns := got.Turns()
	if len(turns) != 2 || turns[1].MessageID != "m4" {
		t.Fatalf("Turns() = %+v", turns)
	}
}

func TestCacheMissAndDrop(t *testing.T) {
	c := NewCache(0)
	if c.Capacity() != DefaultCapacity {
		t.Fatalf("Capacity() = %d, want %d", c.Capacity(), DefaultCapacity)
	}
	c.Push("unknown", entry(1))
	if _, ok := c.Get("unknown"); ok {
		t.Fatalf("Get() ok = true after push to missing window")
	}
	c.Load("s1", nil)
	c.Drop("s1")
	if _, ok := c.Get("s1"); ok {
		t.Fatalf("Get() ok = true after Drop")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCache(3)
	c.Load("s1", []Entry{entry(1)})
	snap, _ := c.Get("s1")
	snap.Entries[0].Content = "mutated"
	again, _ := c.Get("s1")
	if again.Entries[0].Content == "mutated" {
		t.Fatalf("snapshot shares storage with cache")
	}
}
