package cache

import (
	"testing"
	"time"

	"dormpay/internal/log"
)

func newClockedCache(maxSize int, ttl time.Duration) (*LRUCache[string], *time.Time) {
	c := NewLRUCache[string](maxSize, ttl)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestLRUGetSet(t *testing.T) {
	c, _ := newClockedCache(2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	// b is now least recently used
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if c.Size() != 2 {
		t.Fatalf("Size = %d, want 2", c.Size())
	}

	c.Set("a", "updated")
	if v, _ := c.Get("a"); v != "updated" {
		t.Fatalf("overwrite failed, got %q", v)
	}

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 || s.Evictions != 1 || s.Size != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestLRUExpiry(t *testing.T) {
	c, now := newClockedCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	*now = now.Add(30 * time.Second)
	c.Set("c", "3")

	*now = now.Add(31 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should be expired")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Fatalf("CleanExpired removed %d, want 1 (b)", removed)
	}
	if v, ok := c.Get("c"); !ok || v != "3" {
		t.Fatalf("c should still be cached")
	}
}

func TestLRUDeleteAndPurge(t *testing.T) {
	c, _ := newClockedCache(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Delete("a")
	c.Delete("missing")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should be deleted")
	}
	c.Purge()
	if c.Size() != 0 {
		t.Fatalf("Size after purge = %d", c.Size())
	}
}

func TestManager(t *testing.T) {
	c, now := newClockedCache(10, time.Minute)
	c.Set("a", "1")
	*now = now.Add(2 * time.Minute)

	m := NewManager(log.Discard())
	m.Register(c)
	if n := m.CleanNow(); n != 1 {
		t.Fatalf("CleanNow = %d, want 1", n)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	m.Stop()
}
