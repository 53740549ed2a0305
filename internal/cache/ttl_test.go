package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCache[string](Config{TTL: time.Minute, MaxEntries: 10})
	c.now = func() time.Time { return now }

	c.Set("a", "first")
	if value, ok := c.Get("a"); !ok || value != "first" {
		t.Fatalf("expected cached value, got %q ok=%v", value, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be removed, got %d", c.Len())
	}
}

func TestTTLCacheEvictsOldestWhenFull(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTLCache[int](Config{TTL: time.Hour, MaxEntries: 2})
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(time.Second)
	c.Set("b", 2)
	now = now.Add(time.Second)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest entry to be evicted")
	}
	if value, ok := c.Get("c"); !ok || value != 3 {
		t.Fatalf("expected newest entry, got %d ok=%v", value, ok)
	}

	c.Set("b", 20)
	if c.Len() != 2 {
		t.Fatalf("expected overwrite not to evict, got %d entries", c.Len())
	}
}

func TestSignatureIsStableAndCaseSensitive(t *testing.T) {
	if Signature("case-1", "documents") != Signature(" case-1 ", "documents") {
		t.Fatalf("expected trimmed parts to share a signature")
	}
	if Signature("Case-1", "documents") == Signature("case-1", "documents") {
		t.Fatalf("expected case ids to stay case sensitive")
	}
	if Signature("a", "bc") == Signature("ab", "c") {
		t.Fatalf("expected part boundaries to matter")
	}
}
