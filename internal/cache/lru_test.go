package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestLRU_BasicOperations(t *testing.T) {
	c := NewBytesLRU[string](100)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) found a value")
	}

	c.Put("a", []byte("alpha"))
	got, ok := c.Get("a")
	if !ok || string(got) != "alpha" {
		t.Errorf("Get(a) = %q, %v", got, ok)
	}

	c.Put("a", []byte("alpha2"))
	got, _ = c.Get("a")
	if string(got) != "alpha2" {
		t.Errorf("Get(a) after update = %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if s := c.Stats(); s.TotalBytes != 6 {
		t.Errorf("TotalBytes = %d, want 6 after update", s.TotalBytes)
	}

	c.Remove("a")
	c.Remove("never there")
	if _, ok := c.Get("a"); ok {
		t.Error("value present after Remove")
	}
	if s := c.Stats(); s.TotalBytes != 0 {
		t.Errorf("TotalBytes = %d after Remove", s.TotalBytes)
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewBytesLRU[string](10)
	c.Put("a", make([]byte, 4))
	c.Put("b", make([]byte, 4))
	c.Get("a")
	c.Put("c", make([]byte, 4))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s evicted", k)
		}
	}
	s := c.Stats()
	if s.Evictions != 1 || s.TotalBytes != 8 || s.Size != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLRU_EvictsSeveralForLargeValue(t *testing.T) {
	c := NewBytesLRU[string](10)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprint(i), make([]byte, 2))
	}
	c.Put("big", make([]byte, 9))

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if s := c.Stats(); s.TotalBytes != 9 || s.Evictions != 5 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestLRU_TooLarge(t *testing.T) {
	c := NewBytesLRU[string](4)
	c.Put("small", []byte("ok"))
	c.Put("huge", []byte("too large"))

	if _, ok := c.Get("huge"); ok {
		t.Error("oversized value stored")
	}
	if _, ok := c.Get("small"); !ok {
		t.Error("oversized Put evicted other entries")
	}
}

func TestLRU_Disabled(t *testing.T) {
	c := NewBytesLRU[string](0)
	c.Put("a", []byte("x"))
	if c.Len() != 0 {
		t.Errorf("Len() = %d for disabled cache", c.Len())
	}
	c.Put("empty", nil)
	if _, ok := c.Get("empty"); !ok {
		t.Error("zero-size value should fit a disabled cache")
	}
}

func TestLRU_StatsAndClear(t *testing.T) {
	c := NewBytesLRU[string](100)
	c.Put("a", []byte("1"))
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.MaxBytes != 100 {
		t.Errorf("Stats() = %+v", s)
	}

	c.Clear()
	if c.Len() != 0 || c.Stats().TotalBytes != 0 {
		t.Error("Clear() left entries")
	}
}

func TestLRU_Concurrency(t *testing.T) {
	c := NewLRU[int](1000, func(v int) int64 { return 10 })
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Put(g*1000+i, i)
				c.Get(g*1000 + i/2)
			}
		}(g)
	}
	wg.Wait()

	if s := c.Stats(); s.TotalBytes > 1000 || s.TotalBytes != int64(s.Size)*10 {
		t.Errorf("inconsistent Stats() = %+v", s)
	}
}
