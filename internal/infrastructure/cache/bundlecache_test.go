package cache

import (
	"testing"
	"time"
)

func TestBundleCacheGetSetDelete(t *testing.T) {
	c := NewBundleCache(50 * time.Millisecond)
	key := Key("abc123")

	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss before Set")
	}

	c.Set(key, "payload")
	if v, ok := c.Get(key); !ok || v != "payload" {
		t.Fatalf("expected hit with payload, got %q ok=%v", v, ok)
	}

	c.Delete(key)
	if _, ok := c.Get(key); ok {
		t.Fatalf("expected miss after Delete")
	}
}

func TestBundleCacheTTLExpiry(t *testing.T) {
	c := NewBundleCache(10 * time.Millisecond)
	key := Key("abc123")
	c.Set(key, "payload")

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Fatalf("expected entry to have expired")
	}
}
