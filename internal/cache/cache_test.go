package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour)
	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k)
	}
	// touch a so b becomes the oldest
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to be cached")
	}
	c.Set("d", "d")

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if c.Size() != 3 {
		t.Fatalf("expected size 3, got %d", c.Size())
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Hour).WithClock(clock.now)

	c.Set("ttl", 1)
	c.SetUntil("short", 2, clock.t.Add(time.Minute))
	c.SetUntil("long", 3, clock.t.Add(48*time.Hour))

	clock.t = clock.t.Add(2 * time.Minute)
	if _, ok := c.Get("short"); ok {
		t.Fatalf("expected short entry to expire")
	}
	if v, ok := c.Get("ttl"); !ok || v != 1 {
		t.Fatalf("expected ttl entry, got %v %v", v, ok)
	}

	clock.t = clock.t.Add(2 * time.Hour)
	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("expected 2 expired entries, got %d", n)
	}
}

func TestLRUCacheDeleteFunc(t *testing.T) {
	c := NewLRUCache[int](10, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 1)

	if n := c.DeleteFunc(func(v int) bool { return v == 1 }); n != 2 {
		t.Fatalf("expected 2 removals, got %d", n)
	}
	if c.Size() != 1 {
		t.Fatalf("expected one entry left, got %d", c.Size())
	}
}

func TestManagerCleanNow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c := NewLRUCache[int](10, time.Second).WithClock(clock.now)
	c.Set("a", 1)

	m := NewManager(nil)
	m.Register(c)
	clock.t = clock.t.Add(time.Minute)
	if n := m.CleanNow(); n != 1 {
		t.Fatalf("expected 1 cleaned entry, got %d", n)
	}

	m.StartCleanup(time.Hour)
	m.Stop()
}
