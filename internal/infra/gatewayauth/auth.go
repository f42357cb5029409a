// Package gatewayauth verifies the Ed25519 envelope the boundary gateway
// wraps around every inbound POST body, and extracts the client body plus
// the per-request resource budget.
package gatewayauth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"title/internal/domain"
	titlecrypto "title/internal/infra/crypto"
)

// ParseGatewayPubkey decodes the configured base58 gateway key.
func ParseGatewayPubkey(encoded string) (ed25519.PublicKey, error) {
	if encoded == "" {
		return nil, nil
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("gateway pubkey is not base58: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("gateway pubkey must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify authenticates a raw request body.
//
// With a configured gateway key, the body must be a GatewayEnvelope whose
// signature covers the canonical form of {method, path, body,
// resource_budget}; anything else is unauthorized. Without a key
// (development), a bare body passes through with no budget override.
func Verify(gatewayPubkey ed25519.PublicKey, rawBody []byte) (json.RawMessage, *domain.ResourceBudget, error) {
	var probe struct {
		GatewaySignature *string `json:"gateway_signature"`
	}
	if err := json.Unmarshal(rawBody, &probe); err != nil {
		return nil, nil, fmt.Errorf("%w: body is not JSON: %v", domain.ErrBadRequest, err)
	}

	if probe.GatewaySignature == nil {
		if gatewayPubkey != nil {
			return nil, nil, fmt.Errorf("%w: gateway signature required", domain.ErrUnauthorized)
		}
		return json.RawMessage(rawBody), nil, nil
	}

	var envelope domain.GatewayEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed gateway envelope: %v", domain.ErrBadRequest, err)
	}

	if gatewayPubkey != nil {
		target, err := titlecrypto.CanonicalizeAny(domain.GatewaySignTarget{
			Method:         envelope.Method,
			Path:           envelope.Path,
			Body:           envelope.Body,
			ResourceBudget: envelope.ResourceBudget,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: canonicalize sign target: %v", domain.ErrInternal, err)
		}
		sig, err := base64.StdEncoding.DecodeString(envelope.GatewaySignature)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gateway signature is not base64", domain.ErrUnauthorized)
		}
		if !titlecrypto.Verify(gatewayPubkey, target, sig) {
			return nil, nil, fmt.Errorf("%w: gateway signature verification failed", domain.ErrUnauthorized)
		}
	}

	return envelope.Body, envelope.ResourceBudget, nil
}
