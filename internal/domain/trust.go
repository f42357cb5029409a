package domain

// TrustConfig is a read-only snapshot of the on-chain configuration that
// anchors all trust decisions: which environments, timestamp authorities
// and extension modules are authorized. In-flight requests keep the
// snapshot they captured even if an admin refresh swaps it out.
type TrustConfig struct {
	Authority                   string                   `json:"authority"`
	CoreCollectionMint          string                   `json:"core_collection_mint"`
	ExtCollectionMint           string                   `json:"ext_collection_mint"`
	TrustedEnvironmentNodes     []TrustedEnvironmentNode `json:"trusted_environment_nodes"`
	TrustedTimestampAuthorities []string                 `json:"trusted_tsa_keys"`
	TrustedWasmModules          []TrustedWasmModule      `json:"trusted_wasm_modules"`
}

// TrustedEnvironmentNode describes one authorized environment.
type TrustedEnvironmentNode struct {
	SigningPubkey        string               `json:"signing_pubkey"`
	EncryptionPubkey     string               `json:"encryption_pubkey"`
	GatewayPubkey        string               `json:"gateway_pubkey"`
	Status               string               `json:"status"`
	TeeType              string               `json:"tee_type"`
	ExpectedMeasurements ExpectedMeasurements `json:"expected_measurements"`
}

// ExpectedMeasurements holds the boot-state measurements an environment of
// a given type must present. Keys differ per platform.
type ExpectedMeasurements struct {
	PCR0        string `json:"pcr0,omitempty"`
	PCR1        string `json:"pcr1,omitempty"`
	PCR2        string `json:"pcr2,omitempty"`
	Measurement string `json:"measurement,omitempty"`
	MRTD        string `json:"mrtd,omitempty"`
}

// TrustedWasmModule is a content-addressed extension registration.
type TrustedWasmModule struct {
	ExtensionID string `json:"extension_id"`
	Source      string `json:"wasm_source"`
	WasmHash    string `json:"wasm_hash"`
}

// IsTrustedTSAKey reports whether a timestamp authority key hash appears
// in the trusted set. An empty set trusts nothing.
func (tc *TrustConfig) IsTrustedTSAKey(keyHash string) bool {
	for _, k := range tc.TrustedTimestampAuthorities {
		if k == keyHash {
			return true
		}
	}
	return false
}

// ModuleFor returns the trusted registration for an extension id.
func (tc *TrustConfig) ModuleFor(extensionID string) (TrustedWasmModule, bool) {
	for _, m := range tc.TrustedWasmModules {
		if m.ExtensionID == extensionID {
			return m, true
		}
	}
	return TrustedWasmModule{}, false
}
