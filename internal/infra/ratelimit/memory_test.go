package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(context.Background(), "key", 3, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}

	d, err := limiter.Allow(context.Background(), "key", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Fatal("fourth request allowed")
	}

	// A new window admits again.
	now = now.Add(2 * time.Minute)
	d, err = limiter.Allow(context.Background(), "key", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("request denied after window reset")
	}
}

func TestMemoryLimiterKeysIsolated(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	if d, _ := limiter.Allow(context.Background(), "a", 1, time.Minute); !d.Allowed {
		t.Fatal("first a denied")
	}
	if d, _ := limiter.Allow(context.Background(), "a", 1, time.Minute); d.Allowed {
		t.Fatal("second a allowed")
	}
	if d, _ := limiter.Allow(context.Background(), "b", 1, time.Minute); !d.Allowed {
		t.Fatal("b denied by a's bucket")
	}
}

func TestMemoryLimiterZeroLimitDisabled(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	d, err := limiter.Allow(context.Background(), "any", 0, time.Minute)
	if err != nil || !d.Allowed {
		t.Fatalf("zero limit: %v %+v", err, d)
	}
}
