package domain

import "time"

// Default budgets applied when the gateway envelope leaves a field unset.
const (
	DefaultMaxSingleContentBytes uint64 = 2 * 1024 * 1024 * 1024
	DefaultMaxConcurrentBytes    uint64 = 8 * 1024 * 1024 * 1024
	DefaultMinUploadSpeedBytes   uint64 = 1024 * 1024
	DefaultBaseProcessingTimeSec uint64 = 30
	DefaultMaxGlobalTimeoutSec   uint64 = 3600
	DefaultChunkReadTimeoutSec   uint64 = 30
	DefaultMaxGraphSize          int    = 10000
)

// ReservationChunk is the increment, in bytes, at which a request acquires
// permits from the global memory semaphore as data arrives.
const ReservationChunk = 64 * 1024

// MaxSignedAttestationBytes caps a single /sign fetch.
const MaxSignedAttestationBytes uint64 = 1024 * 1024

// ResourceBudget is the per-request budget the gateway attaches to its
// envelope. Unset fields fall back to the defaults above.
type ResourceBudget struct {
	MaxSingleContentBytes *uint64 `json:"max_single_content_bytes,omitempty"`
	MaxConcurrentBytes    *uint64 `json:"max_concurrent_bytes,omitempty"`
	MinUploadSpeedBytes   *uint64 `json:"min_upload_speed_bytes,omitempty"`
	BaseProcessingTimeSec *uint64 `json:"base_processing_time_sec,omitempty"`
	MaxGlobalTimeoutSec   *uint64 `json:"max_global_timeout_sec,omitempty"`
	ChunkReadTimeoutSec   *uint64 `json:"chunk_read_timeout_sec,omitempty"`
	MaxGraphSize          *uint64 `json:"max_graph_size,omitempty"`
}

// ResolvedBudget is a ResourceBudget with every field populated.
type ResolvedBudget struct {
	MaxSingleContentBytes uint64
	MaxConcurrentBytes    uint64
	MinUploadSpeedBytes   uint64
	BaseProcessingTimeSec uint64
	MaxGlobalTimeoutSec   uint64
	ChunkReadTimeoutSec   uint64
	MaxGraphSize          int
}

// ResolveBudget merges a gateway-provided budget with the defaults.
func ResolveBudget(rb *ResourceBudget) ResolvedBudget {
	out := ResolvedBudget{
		MaxSingleContentBytes: DefaultMaxSingleContentBytes,
		MaxConcurrentBytes:    DefaultMaxConcurrentBytes,
		MinUploadSpeedBytes:   DefaultMinUploadSpeedBytes,
		BaseProcessingTimeSec: DefaultBaseProcessingTimeSec,
		MaxGlobalTimeoutSec:   DefaultMaxGlobalTimeoutSec,
		ChunkReadTimeoutSec:   DefaultChunkReadTimeoutSec,
		MaxGraphSize:          DefaultMaxGraphSize,
	}
	if rb == nil {
		return out
	}
	if rb.MaxSingleContentBytes != nil {
		out.MaxSingleContentBytes = *rb.MaxSingleContentBytes
	}
	if rb.MaxConcurrentBytes != nil {
		out.MaxConcurrentBytes = *rb.MaxConcurrentBytes
	}
	if rb.MinUploadSpeedBytes != nil {
		out.MinUploadSpeedBytes = *rb.MinUploadSpeedBytes
	}
	if rb.BaseProcessingTimeSec != nil {
		out.BaseProcessingTimeSec = *rb.BaseProcessingTimeSec
	}
	if rb.MaxGlobalTimeoutSec != nil {
		out.MaxGlobalTimeoutSec = *rb.MaxGlobalTimeoutSec
	}
	if rb.ChunkReadTimeoutSec != nil {
		out.ChunkReadTimeoutSec = *rb.ChunkReadTimeoutSec
	}
	if rb.MaxGraphSize != nil {
		out.MaxGraphSize = int(*rb.MaxGraphSize)
	}
	return out
}

// ChunkTimeout returns the per-chunk read deadline.
func (b ResolvedBudget) ChunkTimeout() time.Duration {
	return time.Duration(b.ChunkReadTimeoutSec) * time.Second
}

// DynamicTimeout computes the request deadline from the content size:
// min(max_global, base + size/min_speed).
func (b ResolvedBudget) DynamicTimeout(contentSize uint64) time.Duration {
	speed := b.MinUploadSpeedBytes
	if speed == 0 {
		speed = 1
	}
	secs := b.BaseProcessingTimeSec + contentSize/speed
	if secs > b.MaxGlobalTimeoutSec {
		secs = b.MaxGlobalTimeoutSec
	}
	return time.Duration(secs) * time.Second
}
