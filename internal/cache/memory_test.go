package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache(0)
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := mc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("value %q", got)
	}

	exists, _ := mc.Exists(ctx, "k")
	if !exists {
		t.Error("Exists returned false for live key")
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := NewMemoryCache(0)
	defer mc.Close()

	if _, err := mc.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(0)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := mc.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected expiry miss, got %v", err)
	}
	if exists, _ := mc.Exists(ctx, "k"); exists {
		t.Error("expired key still reported as existing")
	}
}

func TestMemoryCacheClearPattern(t *testing.T) {
	mc := NewMemoryCache(0)
	defer mc.Close()
	ctx := context.Background()

	mc.Set(ctx, "worklist:20260831:20260831", []byte("a"), time.Minute)
	mc.Set(ctx, "worklist:20260830:20260830", []byte("b"), time.Minute)
	mc.Set(ctx, "other", []byte("c"), time.Minute)

	if err := mc.Clear(ctx, "worklist:*"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := mc.Get(ctx, "worklist:20260831:20260831"); err == nil {
		t.Error("prefixed key survived Clear")
	}
	if _, err := mc.Get(ctx, "other"); err != nil {
		t.Error("unmatched key removed by Clear")
	}
}

func TestWorklistKey(t *testing.T) {
	if got := WorklistKey("20260831", "20260901"); got != "worklist:20260831:20260901" {
		t.Errorf("key %q", got)
	}
}
