package usecase

import (
	"context"

	"title/internal/domain"
	"title/internal/infra/bridge"
	"title/internal/infra/wasm"
)

// Fetcher is the outbound budgeted channel (§ outbound bridge).
type Fetcher interface {
	NewReservation() *bridge.Reservation
	Get(ctx context.Context, url string, maxSize uint64, budget domain.ResolvedBudget, res *bridge.Reservation) ([]byte, error)
}

// ExtensionRegistry resolves trusted extension modules.
type ExtensionRegistry interface {
	Resolve(ctx context.Context, extensionID string) (*wasm.Binary, domain.TrustedWasmModule, error)
	SupportedExtensions() []string
}

// ExtensionRunner executes one module instance over the content view.
type ExtensionRunner interface {
	Execute(wasmBytes, content, extensionInput []byte) ([]byte, error)
}

// TrustSource yields the read-only trust snapshot a request captures at
// admission. Snapshots replace wholesale; in-flight requests keep theirs.
type TrustSource interface {
	Snapshot() *domain.TrustConfig
}

// StaticTrust is the env-var-backed trust source used until the on-chain
// indexer feed is wired in.
type StaticTrust struct {
	Config domain.TrustConfig
}

func (s *StaticTrust) Snapshot() *domain.TrustConfig { return &s.Config }
