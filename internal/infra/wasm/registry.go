package wasm

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"title/internal/domain"
	titlecrypto "title/internal/infra/crypto"
)

// Binary is a loaded module together with the URI it was fetched from.
type Binary struct {
	Bytes  []byte
	Source string
}

// Loader fetches the raw module bytes for an extension id.
type Loader interface {
	Load(ctx context.Context, extensionID string) (*Binary, error)
}

// Registry holds the trusted-module table and gates every instantiation:
// a module only runs when its hash matches the registered wasm_hash for
// its extension id.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]domain.TrustedWasmModule
	loader  Loader
}

// NewRegistry builds a registry over a loader.
func NewRegistry(loader Loader, modules []domain.TrustedWasmModule) *Registry {
	table := make(map[string]domain.TrustedWasmModule, len(modules))
	for _, m := range modules {
		table[m.ExtensionID] = m
	}
	return &Registry{modules: table, loader: loader}
}

// ParseModuleList parses the TRUSTED_WASM_MODULES env format:
// "id=hexhash[,id=hexhash…]". The optional third "=source" segment
// records the module's registered URI.
func ParseModuleList(raw string) ([]domain.TrustedWasmModule, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []domain.TrustedWasmModule
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 3)
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid trusted module entry %q", entry)
		}
		if _, err := hex.DecodeString(strings.TrimPrefix(parts[1], "0x")); err != nil {
			return nil, fmt.Errorf("invalid wasm hash in %q: %w", entry, err)
		}
		m := domain.TrustedWasmModule{ExtensionID: parts[0], WasmHash: parts[1]}
		if len(parts) == 3 {
			m.Source = parts[2]
		}
		out = append(out, m)
	}
	return out, nil
}

// SupportedExtensions lists registered ids, sorted.
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for id := range r.modules {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve loads an extension module and enforces its trust record. The
// returned module metadata carries the verified hash in "0x…" form.
func (r *Registry) Resolve(ctx context.Context, extensionID string) (*Binary, domain.TrustedWasmModule, error) {
	r.mu.RLock()
	record, ok := r.modules[extensionID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.TrustedWasmModule{}, fmt.Errorf("%w: untrusted extension %q", domain.ErrForbidden, extensionID)
	}
	if r.loader == nil {
		return nil, domain.TrustedWasmModule{}, fmt.Errorf("%w: no wasm loader configured", domain.ErrForbidden)
	}

	bin, err := r.loader.Load(ctx, extensionID)
	if err != nil {
		return nil, domain.TrustedWasmModule{}, fmt.Errorf("load extension %q: %w", extensionID, err)
	}

	sum := titlecrypto.SHA256(bin.Bytes)
	got := hex.EncodeToString(sum[:])
	want := strings.TrimPrefix(strings.ToLower(record.WasmHash), "0x")
	if got != want {
		return nil, domain.TrustedWasmModule{}, fmt.Errorf("%w: wasm hash mismatch for %q", domain.ErrForbidden, extensionID)
	}

	record.WasmHash = titlecrypto.FormatContentHash(sum)
	if record.Source == "" {
		record.Source = bin.Source
	}
	return bin, record, nil
}

// FileLoader reads modules from a local directory as <id>.wasm.
// Development and test use.
type FileLoader struct {
	Dir string
}

func (l *FileLoader) Load(_ context.Context, extensionID string) (*Binary, error) {
	if strings.ContainsAny(extensionID, "/\\") {
		return nil, fmt.Errorf("%w: invalid extension id", domain.ErrBadRequest)
	}
	path := filepath.Join(l.Dir, extensionID+".wasm")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read module: %v", domain.ErrInternal, err)
	}
	return &Binary{Bytes: data, Source: "file://" + path}, nil
}

// FetchFunc adapts the outbound bridge's GET to the loader contract.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// BridgeLoader fetches modules over the outbound bridge from a base URL;
// production use (permanent storage).
type BridgeLoader struct {
	BaseURL string
	Fetch   FetchFunc
}

func (l *BridgeLoader) Load(ctx context.Context, extensionID string) (*Binary, error) {
	url := strings.TrimSuffix(l.BaseURL, "/") + "/" + extensionID + ".wasm"
	data, err := l.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Binary{Bytes: data, Source: url}, nil
}
