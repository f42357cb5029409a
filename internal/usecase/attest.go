package usecase

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"title/internal/domain"
	titlecrypto "title/internal/infra/crypto"
)

// sealAttestation wraps a processor payload into the signed envelope:
// the environment key signs the canonical {payload, attributes} form and
// the measurement document rides along for out-of-band verification.
func sealAttestation(env domain.Environment, protocol string, payload any, attributes []domain.Attribute) (*domain.SignedAttestation, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload: %v", domain.ErrInternal, err)
	}

	target, err := titlecrypto.SignTarget(payloadJSON, attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize sign target: %v", domain.ErrInternal, err)
	}
	signature, err := env.Sign(target)
	if err != nil {
		return nil, fmt.Errorf("%w: sign attestation: %v", domain.ErrInternal, err)
	}
	attestationDoc, err := env.Attestation()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch attestation document: %v", domain.ErrInternal, err)
	}

	return &domain.SignedAttestation{
		Protocol:       protocol,
		TeeType:        env.TeeType(),
		TeePubkey:      base58.Encode(env.SigningPubkey()),
		TeeSignature:   base64.StdEncoding.EncodeToString(signature),
		TeeAttestation: base64.StdEncoding.EncodeToString(attestationDoc),
		Payload:        payloadJSON,
		Attributes:     attributes,
	}, nil
}

// verifyAttestationSignature re-runs the signature check an attestation
// must pass at the sign gate, against the given public key.
func verifyAttestationSignature(pubkey []byte, att *domain.SignedAttestation) error {
	target, err := titlecrypto.SignTarget(att.Payload, att.Attributes)
	if err != nil {
		return fmt.Errorf("%w: canonicalize sign target: %v", domain.ErrInternal, err)
	}
	sig, err := base64.StdEncoding.DecodeString(att.TeeSignature)
	if err != nil {
		return fmt.Errorf("%w: tee_signature is not base64", domain.ErrRejectedSignature)
	}
	if !titlecrypto.Verify(pubkey, target, sig) {
		return fmt.Errorf("%w: tee_signature does not verify under the current key", domain.ErrRejectedSignature)
	}
	return nil
}
