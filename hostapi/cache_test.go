package hostapi

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "absent"); ok {
		t.Error("empty cache should miss")
	}

	if err := c.Set(ctx, "k", []byte("value"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || string(got) != "value" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}

	// The returned slice is a copy; mutating it must not poison the cache.
	got[0] = 'X'
	again, _, _ := c.Get(ctx, "k")
	if string(again) != "value" {
		t.Errorf("cache entry mutated through returned slice: %q", again)
	}
}

func TestMemoryCache_TTL(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), 30*time.Second)
	c.Set(ctx, "forever", []byte("v"), 0)

	if _, ok, _ := c.Get(ctx, "short"); !ok {
		t.Error("entry should live before its TTL")
	}

	now = now.Add(31 * time.Second)
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Error("entry should expire after its TTL")
	}
	if _, ok, _ := c.Get(ctx, "forever"); !ok {
		t.Error("zero TTL means no expiry")
	}
	if c.Len() != 1 {
		t.Errorf("expired entry should be dropped, len = %d", c.Len())
	}
}

func TestMemoryCache_Overwrite(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), 0)
	c.Set(ctx, "k", []byte("new"), 0)
	got, _, _ := c.Get(ctx, "k")
	if string(got) != "new" {
		t.Errorf("overwrite failed: %q", got)
	}
}
