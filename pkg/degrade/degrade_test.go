package degrade

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistryTTL(t *testing.T) {
	now := time.Now()
	r := NewRegistry()
	r.now = func() time.Time { return now }

	if !r.Healthy("metrics") {
		t.Fatal("unflagged dependency should be healthy")
	}

	r.MarkUnhealthy("metrics", time.Minute)
	if r.Healthy("metrics") {
		t.Fatal("flagged dependency should be unhealthy")
	}

	// Advance past the TTL.
	now = now.Add(2 * time.Minute)
	if !r.Healthy("metrics") {
		t.Fatal("expired flag should be treated as healthy")
	}
}

func TestRegistryMarkHealthy(t *testing.T) {
	r := NewRegistry()
	r.MarkUnhealthy("logdb", time.Hour)
	r.MarkHealthy("logdb")
	if !r.Healthy("logdb") {
		t.Fatal("MarkHealthy should clear the flag")
	}
}

func TestGuardServesFreshWhenHealthy(t *testing.T) {
	r := NewRegistry()
	g := NewGuard(r, "stats", time.Minute, "static")

	v, fromFallback, err := g.Get(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	})
	if err != nil || fromFallback {
		t.Fatalf("expected fresh value, got fallback=%v err=%v", fromFallback, err)
	}
	if v != "fresh" {
		t.Fatalf("got %v", v)
	}
}

func TestGuardFallsBackToCacheOnFailure(t *testing.T) {
	r := NewRegistry()
	g := NewGuard(r, "stats", time.Minute, "static")

	// Prime the cache.
	_, _, _ = g.Get(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "cached-value", nil
	})

	v, fromFallback, err := g.Get(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("backend down")
	})
	if !fromFallback {
		t.Fatal("expected fallback after failure")
	}
	if err == nil {
		t.Fatal("failure error should be surfaced alongside the fallback")
	}
	if v != "cached-value" {
		t.Fatalf("expected cached value, got %v", v)
	}

	// While degraded the fresh path must not be called at all.
	called := false
	v, fromFallback, err = g.Get(context.Background(), func(ctx context.Context) (interface{}, error) {
		called = true
		return "fresh", nil
	})
	if called {
		t.Fatal("fresh path called while dependency degraded")
	}
	if !fromFallback || err != nil || v != "cached-value" {
		t.Fatalf("unexpected degraded result: %v %v %v", v, fromFallback, err)
	}
}

func TestGuardStaticFallbackWithoutCache(t *testing.T) {
	r := NewRegistry()
	g := NewGuard(r, "stats", time.Minute, "static")

	v, fromFallback, _ := g.Get(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("down")
	})
	if !fromFallback || v != "static" {
		t.Fatalf("expected static fallback, got %v (fallback=%v)", v, fromFallback)
	}
}
