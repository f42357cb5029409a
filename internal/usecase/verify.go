package usecase

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"title/internal/domain"
	"title/internal/infra/c2pa"
	titlecrypto "title/internal/infra/crypto"
)

// VerifyContent is the /verify pipeline: fetch the encrypted payload,
// open it with the environment's static key, run the core C2PA processor
// and any requested extensions, and seal the signed results back to the
// client's ephemeral key.
type VerifyContent struct {
	Env      domain.Environment
	Fetcher  Fetcher
	Registry ExtensionRegistry
	Runner   ExtensionRunner
	Trust    TrustSource
	State    *EnvironmentState
}

// Execute runs the pipeline for one authenticated request. Failure of any
// single processor fails the whole request; no partial results escape.
func (uc *VerifyContent) Execute(ctx context.Context, req domain.VerifyRequest, budget domain.ResolvedBudget) (*domain.EncryptedResponse, error) {
	if err := uc.State.RequireActive(); err != nil {
		return nil, err
	}
	if req.DownloadURL == "" {
		return nil, fmt.Errorf("%w: download_url is required", domain.ErrBadRequest)
	}
	if len(req.ProcessorIDs) == 0 {
		return nil, fmt.Errorf("%w: processor_ids is required", domain.ErrBadRequest)
	}

	res := uc.Fetcher.NewReservation()
	defer res.Release()

	envelopeBytes, err := uc.Fetcher.Get(ctx, req.DownloadURL, budget.MaxSingleContentBytes, budget, res)
	if err != nil {
		return nil, err
	}

	var envelope domain.EncryptedEnvelope
	if err := json.Unmarshal(envelopeBytes, &envelope); err != nil {
		return nil, fmt.Errorf("%w: encrypted payload is not valid JSON", domain.ErrProxy)
	}

	key, payload, err := uc.openEnvelope(&envelope)
	if err != nil {
		return nil, err
	}

	content, err := base64.StdEncoding.DecodeString(payload.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: content is not base64", domain.ErrBadRequest)
	}
	defer titlecrypto.Zero(content)

	if uint64(len(content)) > budget.MaxSingleContentBytes {
		return nil, fmt.Errorf("%w: content is %d bytes, cap %d", domain.ErrPayloadTooLarge, len(content), budget.MaxSingleContentBytes)
	}

	ctx, cancel := context.WithTimeout(ctx, budget.DynamicTimeout(uint64(len(content))))
	defer cancel()

	results, err := uc.runProcessors(ctx, req.ProcessorIDs, content, payload, budget)
	if err != nil {
		return nil, err
	}

	return sealResponse(key, &domain.VerifyResponse{Results: results})
}

// openEnvelope derives the shared session key from the client's
// ephemeral key and this environment's static encryption key, then opens
// the AEAD.
func (uc *VerifyContent) openEnvelope(envelope *domain.EncryptedEnvelope) ([]byte, *domain.ClientPayload, error) {
	ephemeral, err := base64.StdEncoding.DecodeString(envelope.EphemeralPubkey)
	if err != nil || len(ephemeral) != 32 {
		return nil, nil, fmt.Errorf("%w: ephemeral_pubkey must be 32 base64 bytes", domain.ErrBadRequest)
	}
	nonce, err := base64.StdEncoding.DecodeString(envelope.Nonce)
	if err != nil || len(nonce) != titlecrypto.NonceSize {
		return nil, nil, fmt.Errorf("%w: nonce must be 12 base64 bytes", domain.ErrBadRequest)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext is not base64", domain.ErrBadRequest)
	}

	shared, err := titlecrypto.DeriveSharedSecret(uc.Env.EncryptionSecretKey(), ephemeral)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrDecrypt, err)
	}
	key, err := titlecrypto.DeriveSymmetricKey(shared)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}

	plaintext, err := titlecrypto.Open(key, nonce, ciphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: payload does not open", domain.ErrDecrypt)
	}
	defer titlecrypto.Zero(plaintext)

	var payload domain.ClientPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: client payload is not valid JSON", domain.ErrBadRequest)
	}
	return key, &payload, nil
}

// runProcessors validates the manifest once, emits the core attestation
// if requested, then runs each extension. Core runs strictly before any
// extension; extensions never outlive this call, and results come back
// in request order.
func (uc *VerifyContent) runProcessors(ctx context.Context, processorIDs []string, content []byte, payload *domain.ClientPayload, budget domain.ResolvedBudget) ([]domain.ProcessorResult, error) {
	trust := uc.Trust.Snapshot()

	set, err := uc.verifyManifest(content, payload)
	if err != nil {
		return nil, err
	}
	contentHash := c2pa.ContentIdentifier(set)

	byID := make(map[string]json.RawMessage, len(processorIDs))

	if containsCore(processorIDs) {
		att, err := uc.runCore(set, contentHash, payload.OwnerWallet, trust, budget)
		if err != nil {
			return nil, err
		}
		signed, err := json.Marshal(att)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal attestation: %v", domain.ErrInternal, err)
		}
		byID[domain.CoreProcessorID] = signed
	}

	for _, id := range processorIDs {
		if id == domain.CoreProcessorID {
			continue
		}
		if _, done := byID[id]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeadline, err)
		}
		att, err := uc.runExtension(ctx, id, content, set.ContentType, contentHash, payload)
		if err != nil {
			return nil, err
		}
		signed, err := json.Marshal(att)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal attestation: %v", domain.ErrInternal, err)
		}
		byID[id] = signed
	}

	results := make([]domain.ProcessorResult, 0, len(processorIDs))
	seen := make(map[string]bool, len(processorIDs))
	for _, id := range processorIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		results = append(results, domain.ProcessorResult{ProcessorID: id, SignedJSON: byID[id]})
	}
	return results, nil
}

// verifyManifest runs the C2PA engine over the content, or over the
// sidecar manifest when the client supplied one.
func (uc *VerifyContent) verifyManifest(content []byte, payload *domain.ClientPayload) (*c2pa.VerifiedManifestSet, error) {
	if payload.SidecarManifest != "" {
		sidecar, err := base64.StdEncoding.DecodeString(payload.SidecarManifest)
		if err != nil {
			return nil, fmt.Errorf("%w: sidecar_manifest is not base64", domain.ErrBadRequest)
		}
		return c2pa.VerifyStore(sidecar, c2pa.DetectContentType(content))
	}
	return c2pa.Verify(content)
}

func (uc *VerifyContent) runCore(set *c2pa.VerifiedManifestSet, contentHash, ownerWallet string, trust *domain.TrustConfig, budget domain.ResolvedBudget) (*domain.SignedAttestation, error) {
	graph, err := c2pa.BuildProvenanceGraph(set, budget.MaxGraphSize)
	if err != nil {
		return nil, err
	}

	corePayload := domain.CorePayload{
		ContentHash:   contentHash,
		ContentType:   set.ContentType,
		CreatorWallet: ownerWallet,
		Nodes:         graph.Nodes,
		Links:         graph.Links,
	}

	if ts := c2pa.ExtractTimestamp(set, trust.IsTrustedTSAKey); ts != nil {
		corePayload.TSATimestamp = &ts.Timestamp
		corePayload.TSAPubkeyHash = ts.PubkeyHash
		corePayload.TSATokenData = base64.StdEncoding.EncodeToString(ts.Token)
	}

	attributes := []domain.Attribute{
		{TraitType: "protocol", Value: domain.ProtocolCore},
		{TraitType: "content_hash", Value: contentHash},
		{TraitType: "content_type", Value: set.ContentType},
	}
	if len(set.ValidationCodes) > 0 {
		attributes = append(attributes, domain.Attribute{
			TraitType: "validation_codes",
			Value:     strings.Join(set.ValidationCodes, ","),
		})
	}

	return sealAttestation(uc.Env, domain.ProtocolCore, corePayload, attributes)
}

func (uc *VerifyContent) runExtension(ctx context.Context, extensionID string, content []byte, contentType, contentHash string, payload *domain.ClientPayload) (*domain.SignedAttestation, error) {
	bin, record, err := uc.Registry.Resolve(ctx, extensionID)
	if err != nil {
		return nil, err
	}

	// Only this extension's slice of extension_inputs is ever exposed.
	var input []byte
	var inputHash string
	if raw, ok := payload.ExtensionInputs[extensionID]; ok {
		input = []byte(raw)
		sum := titlecrypto.SHA256(input)
		inputHash = titlecrypto.FormatContentHash(sum)
	}

	output, err := uc.Runner.Execute(bin.Bytes, content, input)
	if err != nil {
		return nil, err
	}
	if !json.Valid(output) {
		return nil, fmt.Errorf("%w: extension %q returned invalid JSON", domain.ErrWasm, extensionID)
	}

	extPayload := domain.ExtensionPayload{
		ContentHash:        contentHash,
		ContentType:        contentType,
		CreatorWallet:      payload.OwnerWallet,
		ExtensionID:        extensionID,
		WasmSource:         record.Source,
		WasmHash:           record.WasmHash,
		ExtensionInputHash: inputHash,
		Result:             output,
	}

	attributes := []domain.Attribute{
		{TraitType: "protocol", Value: domain.ProtocolExtension},
		{TraitType: "content_hash", Value: contentHash},
		{TraitType: "extension_id", Value: extensionID},
	}

	return sealAttestation(uc.Env, domain.ProtocolExtension, extPayload, attributes)
}

// sealResponse serializes the results and seals them under the session
// key with a fresh nonce.
func sealResponse(key []byte, response *domain.VerifyResponse) (*domain.EncryptedResponse, error) {
	plaintext, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal response: %v", domain.ErrInternal, err)
	}
	nonce := make([]byte, titlecrypto.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", domain.ErrInternal, err)
	}
	ciphertext, err := titlecrypto.Seal(key, nonce, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: seal response: %v", domain.ErrInternal, err)
	}
	return &domain.EncryptedResponse{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func containsCore(ids []string) bool {
	for _, id := range ids {
		if id == domain.CoreProcessorID {
			return true
		}
	}
	return false
}
