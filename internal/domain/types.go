package domain

import "encoding/json"

// Protocol identifiers carried in the signed attestation envelope.
const (
	ProtocolCore      = "Title-v1"
	ProtocolExtension = "Title-Extension-v1"
)

// CoreProcessorID selects the built-in C2PA processor on /verify.
const CoreProcessorID = "core-c2pa"

// EncryptedEnvelope is the client-encrypted payload stored on temporary
// storage. All fields are base64. The ciphertext includes the GCM tag.
type EncryptedEnvelope struct {
	EphemeralPubkey string `json:"ephemeral_pubkey"`
	Nonce           string `json:"nonce"`
	Ciphertext      string `json:"ciphertext"`
}

// ClientPayload is the plaintext the client encrypted: the content itself
// plus per-extension auxiliary inputs. The inputs for extension X are only
// ever handed to X.
type ClientPayload struct {
	OwnerWallet     string                     `json:"owner_wallet"`
	Content         string                     `json:"content"`
	SidecarManifest string                     `json:"sidecar_manifest,omitempty"`
	ExtensionInputs map[string]json.RawMessage `json:"extension_inputs,omitempty"`
}

// GraphNode is one node of the provenance DAG, identified by content hash.
type GraphNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Node types.
const (
	NodeFinal      = "final"
	NodeIngredient = "ingredient"
)

// GraphLink is a source→target edge of the provenance DAG.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Role   string `json:"role"`
}

// Attribute is a Metaplex-style trait for on-chain metadata.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// SignedAttestation is the envelope the environment emits for every
// processor result and re-verifies at the sign gate. The signature covers
// the canonical serialization of {payload, attributes}.
type SignedAttestation struct {
	Protocol       string          `json:"protocol"`
	TeeType        string          `json:"tee_type"`
	TeePubkey      string          `json:"tee_pubkey"`
	TeeSignature   string          `json:"tee_signature"`
	TeeAttestation string          `json:"tee_attestation"`
	Payload        json.RawMessage `json:"payload"`
	Attributes     []Attribute     `json:"attributes"`
}

// CorePayload is the payload shape for the core C2PA processor.
type CorePayload struct {
	ContentHash   string      `json:"content_hash"`
	ContentType   string      `json:"content_type"`
	CreatorWallet string      `json:"creator_wallet"`
	TSATimestamp  *uint64     `json:"tsa_timestamp,omitempty"`
	TSAPubkeyHash string      `json:"tsa_pubkey_hash,omitempty"`
	TSATokenData  string      `json:"tsa_token_data,omitempty"`
	Nodes         []GraphNode `json:"nodes"`
	Links         []GraphLink `json:"links"`
}

// ExtensionPayload is the payload shape for sandboxed extension results.
type ExtensionPayload struct {
	ContentHash        string          `json:"content_hash"`
	ContentType        string          `json:"content_type"`
	CreatorWallet      string          `json:"creator_wallet"`
	ExtensionID        string          `json:"extension_id"`
	WasmSource         string          `json:"wasm_source"`
	WasmHash           string          `json:"wasm_hash"`
	ExtensionInputHash string          `json:"extension_input_hash,omitempty"`
	Result             json.RawMessage `json:"result"`
}

// VerifyRequest is the decoded body of POST /verify.
type VerifyRequest struct {
	DownloadURL  string   `json:"download_url"`
	ProcessorIDs []string `json:"processor_ids"`
}

// ProcessorResult pairs a processor id with its signed attestation.
type ProcessorResult struct {
	ProcessorID string          `json:"processor_id"`
	SignedJSON  json.RawMessage `json:"signed_json"`
}

// VerifyResponse is the plaintext response sealed back to the client.
type VerifyResponse struct {
	Results []ProcessorResult `json:"results"`
}

// EncryptedResponse is the sealed VerifyResponse returned over HTTP.
type EncryptedResponse struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SignRequest is the decoded body of POST /sign.
type SignRequest struct {
	RecentBlockhash string            `json:"recent_blockhash"`
	Requests        []SignRequestItem `json:"requests"`
}

// SignRequestItem names one stored attestation to mint.
type SignRequestItem struct {
	SignedJSONURI string `json:"signed_json_uri"`
}

// SignResponse carries the partially signed mint transactions, base64.
type SignResponse struct {
	PartialTxs []string `json:"partial_txs"`
}

// CreateTreeRequest is the decoded body of POST /create-tree.
type CreateTreeRequest struct {
	MaxDepth        uint32 `json:"max_depth"`
	MaxBufferSize   uint32 `json:"max_buffer_size"`
	RecentBlockhash string `json:"recent_blockhash"`
	Payer           string `json:"payer,omitempty"`
}

// CreateTreeResponse returns the partially signed tree-creation
// transaction together with this environment's public identity.
type CreateTreeResponse struct {
	PartialTx        string `json:"partial_tx"`
	TreeAddress      string `json:"tree_address"`
	SigningPubkey    string `json:"signing_pubkey"`
	EncryptionPubkey string `json:"encryption_pubkey"`
}

// NodeInfo is the body of GET /.well-known/title-node-info.
type NodeInfo struct {
	SigningPubkey       string     `json:"signing_pubkey"`
	EncryptionPubkey    string     `json:"encryption_pubkey"`
	TeeType             string     `json:"tee_type"`
	SupportedExtensions []string   `json:"supported_extensions"`
	Limits              NodeLimits `json:"limits"`
}

// NodeLimits advertises the operative byte budgets.
type NodeLimits struct {
	MaxSingleContentBytes uint64 `json:"max_single_content_bytes"`
	MaxConcurrentBytes    uint64 `json:"max_concurrent_bytes"`
}

// GatewayEnvelope is the authenticated wrapper the boundary gateway puts
// around every inbound POST body. The signature is Ed25519 over the
// canonical serialization of {method, path, body, resource_budget}.
type GatewayEnvelope struct {
	Method           string          `json:"method"`
	Path             string          `json:"path"`
	Body             json.RawMessage `json:"body"`
	ResourceBudget   *ResourceBudget `json:"resource_budget,omitempty"`
	GatewaySignature string          `json:"gateway_signature"`
}

// GatewaySignTarget is the envelope minus its signature; the gateway signs
// this structure and the engine rebuilds it verbatim for verification.
type GatewaySignTarget struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body"`
	ResourceBudget *ResourceBudget `json:"resource_budget,omitempty"`
}
