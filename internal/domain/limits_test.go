package domain

import (
	"testing"
	"time"
)

func TestResolveBudgetDefaults(t *testing.T) {
	b := ResolveBudget(nil)
	if b.MaxSingleContentBytes != DefaultMaxSingleContentBytes {
		t.Fatalf("max single: %d", b.MaxSingleContentBytes)
	}
	if b.ChunkReadTimeoutSec != DefaultChunkReadTimeoutSec {
		t.Fatalf("chunk timeout: %d", b.ChunkReadTimeoutSec)
	}
	if b.MaxGraphSize != DefaultMaxGraphSize {
		t.Fatalf("graph size: %d", b.MaxGraphSize)
	}
}

func TestResolveBudgetOverrides(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }
	b := ResolveBudget(&ResourceBudget{
		MaxSingleContentBytes: u(1024),
		MaxConcurrentBytes:    u(2048),
		MaxGlobalTimeoutSec:   u(60),
		ChunkReadTimeoutSec:   u(5),
		MaxGraphSize:          u(500),
	})
	if b.MaxSingleContentBytes != 1024 || b.MaxConcurrentBytes != 2048 {
		t.Fatalf("byte caps not applied: %+v", b)
	}
	if b.MinUploadSpeedBytes != DefaultMinUploadSpeedBytes {
		t.Fatalf("unset field not defaulted: %d", b.MinUploadSpeedBytes)
	}
	if b.MaxGlobalTimeoutSec != 60 || b.ChunkReadTimeoutSec != 5 || b.MaxGraphSize != 500 {
		t.Fatalf("overrides not applied: %+v", b)
	}
}

func TestDynamicTimeout(t *testing.T) {
	b := ResolveBudget(nil)

	if got := b.DynamicTimeout(0); got != 30*time.Second {
		t.Fatalf("zero-size timeout: %s", got)
	}
	// 100 MiB at 1 MiB/s: 30 + 100 seconds.
	if got := b.DynamicTimeout(100 * 1024 * 1024); got != 130*time.Second {
		t.Fatalf("100MiB timeout: %s", got)
	}
	// Huge content caps at the global maximum.
	if got := b.DynamicTimeout(100 * 1024 * 1024 * 1024); got != 3600*time.Second {
		t.Fatalf("capped timeout: %s", got)
	}
}

func TestDynamicTimeoutCustomLimits(t *testing.T) {
	u := func(v uint64) *uint64 { return &v }
	b := ResolveBudget(&ResourceBudget{
		MinUploadSpeedBytes:   u(512 * 1024),
		BaseProcessingTimeSec: u(10),
		MaxGlobalTimeoutSec:   u(120),
	})

	// 50 MiB at 512 KiB/s: 10 + 100 seconds.
	if got := b.DynamicTimeout(50 * 1024 * 1024); got != 110*time.Second {
		t.Fatalf("custom timeout: %s", got)
	}
	if got := b.DynamicTimeout(100 * 1024 * 1024); got != 120*time.Second {
		t.Fatalf("custom cap: %s", got)
	}
}
