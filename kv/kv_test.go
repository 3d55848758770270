package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemCache_SetGet(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()

	if err := cache.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	value, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if value != "v" {
		t.Errorf("value = %q, want %q", value, "v")
	}
}

func TestMemCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	_ = cache.Set(ctx, "k", "v", time.Minute)

	now = now.Add(2 * time.Minute)
	_, ok, _ := cache.Get(ctx, "k")
	if ok {
		t.Error("expected expired key to be absent")
	}
}

func TestMemCache_SetNX(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()

	first, _ := cache.SetNX(ctx, "dedupe:MSG1", "1", time.Hour)
	second, _ := cache.SetNX(ctx, "dedupe:MSG1", "1", time.Hour)

	if !first {
		t.Error("first SetNX should succeed")
	}
	if second {
		t.Error("second SetNX should report existing key")
	}
}

func TestMemCache_SetNXAfterExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, _ = cache.SetNX(ctx, "k", "1", time.Minute)
	now = now.Add(2 * time.Minute)

	ok, _ := cache.SetNX(ctx, "k", "2", time.Minute)
	if !ok {
		t.Error("SetNX should succeed once previous value expired")
	}
}
