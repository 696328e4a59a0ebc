package memory

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUTTLBasicGetSet(t *testing.T) {
	c := NewLRUTTL[string, int](4, 0, time.Minute)
	c.Set("a", 1, 0)

	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get(missing) should miss")
	}
}

func TestLRUTTLEvictsLeastRecent(t *testing.T) {
	c := NewLRUTTL[string, int](2, 0, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should still be cached")
	}
	c.Set("c", 3, 0) // "b" is now least recent

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should have survived")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("c should be cached")
	}
}

func TestLRUTTLByteBudget(t *testing.T) {
	c := NewLRUTTL[string, []byte](100, 10, time.Minute)
	c.Set("a", []byte("aaaa"), 4)
	c.Set("b", []byte("bbbb"), 4)
	c.Set("c", []byte("cccc"), 4) // pushes total over 10, "a" goes

	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should have been evicted by the byte budget")
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRUTTL[string, int](4, 0, 10*time.Millisecond)
	c.Set("a", 1, 0)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expired entry should miss")
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after expiry read", c.Len())
	}
}

func TestLRUTTLDeleteFunc(t *testing.T) {
	c := NewLRUTTL[string, int](16, 0, time.Minute)
	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("wf1/%d", i), i, 0)
		c.Set(fmt.Sprintf("wf2/%d", i), i, 0)
	}

	c.DeleteFunc(func(k string) bool { return k[:3] == "wf1" })

	if c.Len() != 4 {
		t.Fatalf("Len = %d, want 4", c.Len())
	}
	if _, ok := c.Get("wf1/0"); ok {
		t.Fatalf("wf1 entries should be gone")
	}
	if _, ok := c.Get("wf2/0"); !ok {
		t.Fatalf("wf2 entries should remain")
	}
}

func TestLRUTTLUpdateExistingKey(t *testing.T) {
	c := NewLRUTTL[string, int](2, 0, time.Minute)
	c.Set("a", 1, 0)
	c.Set("a", 2, 0)

	if v, _ := c.Get("a"); v != 2 {
		t.Fatalf("Get(a) = %d, want 2", v)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
}

func TestLRUTTLNilReceiver(t *testing.T) {
	var c *LRUTTL[string, int]
	c.Set("a", 1, 0)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("nil cache must miss")
	}
	c.Delete("a")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("nil cache Len = %d, want 0", c.Len())
	}
}
