package c2pa

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"fmt"

	"github.com/veraison/go-cose"

	titlecrypto "title/internal/infra/crypto"
)

// Non-fatal validation codes preserved in the core payload attributes.
const (
	codeClaimSignatureValidated   = "claimSignature.validated"
	codeSigningCredentialUntrusted = "signingCredential.untrusted"
	codeTimestampPresent          = "timeStamp.present"
)

// VerifiedManifestSet is the output of Verify: the parsed store whose
// signature chains all validated, plus the collected non-fatal codes.
type VerifiedManifestSet struct {
	Store           *ManifestStore
	ContentType     string
	ValidationCodes []string
}

// Active returns the active manifest of the verified set.
func (v *VerifiedManifestSet) Active() *Manifest {
	return v.Store.Active()
}

// Verify reads the embedded manifest store out of content, validates each
// manifest's claim signature against its embedded certificate chain and
// identifies the active manifest. Non-fatal conditions (an untrusted
// signing credential, a present timestamp) surface as validation codes;
// a broken signature or malformed store fails outright.
func Verify(content []byte) (*VerifiedManifestSet, error) {
	jumbf, err := ExtractJUMBF(content)
	if err != nil {
		return nil, err
	}
	return VerifyStore(jumbf, DetectContentType(content))
}

// VerifyStore validates an already-extracted JUMBF stream; used for
// sidecar manifests.
func VerifyStore(jumbf []byte, detectedType string) (*VerifiedManifestSet, error) {
	store, err := ParseStore(jumbf)
	if err != nil {
		return nil, err
	}

	set := &VerifiedManifestSet{Store: store, ContentType: detectedType}
	for i := range store.Manifests {
		m := &store.Manifests[i]
		codes, err := verifyManifestSignature(m)
		if err != nil {
			return nil, err
		}
		set.ValidationCodes = append(set.ValidationCodes, codes...)
	}

	if active := store.Active(); active != nil && active.Format != "" {
		set.ContentType = active.Format
	}
	return set, nil
}

// ContentIdentifier derives the canonical "0x…" identifier: SHA-256 of
// the active manifest's signature blob.
func ContentIdentifier(set *VerifiedManifestSet) string {
	active := set.Active()
	hash := titlecrypto.ContentHash(active.Signature)
	return titlecrypto.FormatContentHash(hash)
}

// verifyManifestSignature checks one manifest's COSE Sign1 claim
// signature against the certificate chain it embeds.
func verifyManifestSignature(m *Manifest) ([]string, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(m.Signature); err != nil {
		return nil, fmt.Errorf("%w: cose parse: %v", ErrSignatureInvalid, err)
	}

	certs, err := signerCertificates(&msg)
	if err != nil {
		return nil, err
	}

	codes := []string{}
	chainTrusted, err := verifyChain(certs)
	if err != nil {
		return nil, err
	}
	if !chainTrusted {
		codes = append(codes, codeSigningCredentialUntrusted)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("%w: missing algorithm header", ErrSignatureInvalid)
	}
	verifier, err := verifierForKey(alg, certs[0].PublicKey)
	if err != nil {
		return nil, err
	}

	// The signature embeds the claim it covers; it must match the claim
	// box byte for byte, or the store was reassembled.
	if !bytes.Equal(msg.Payload, m.ClaimBytes) {
		return nil, fmt.Errorf("%w: signature does not cover the claim of %q", ErrSignatureInvalid, m.Label)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: manifest %q", ErrSignatureInvalid, m.Label)
	}
	codes = append(codes, codeClaimSignatureValidated)

	if token := timestampToken(&msg); token != nil {
		m.TimestampToken = token
		codes = append(codes, codeTimestampPresent)
	}
	return codes, nil
}

// signerCertificates extracts the x5chain header as parsed certificates,
// leaf first.
func signerCertificates(msg *cose.Sign1Message) ([]*x509.Certificate, error) {
	raw, ok := msg.Headers.Protected[cose.HeaderLabelX5Chain]
	if !ok {
		raw, ok = msg.Headers.Unprotected[cose.HeaderLabelX5Chain]
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing x5chain", ErrSignatureInvalid)
	}

	var ders [][]byte
	switch v := raw.(type) {
	case []byte:
		ders = [][]byte{v}
	case []any:
		for _, e := range v {
			der, ok := e.([]byte)
			if !ok {
				return nil, fmt.Errorf("%w: malformed x5chain entry", ErrSignatureInvalid)
			}
			ders = append(ders, der)
		}
	default:
		return nil, fmt.Errorf("%w: malformed x5chain", ErrSignatureInvalid)
	}

	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: certificate parse: %v", ErrSignatureInvalid, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: empty x5chain", ErrSignatureInvalid)
	}
	return certs, nil
}

// verifyChain checks that each certificate is signed by its successor. A
// broken chain is fatal; a structurally valid chain is still reported
// untrusted because no CA anchor lives here (trust roots are on-chain,
// enforced downstream by the indexer).
func verifyChain(certs []*x509.Certificate) (bool, error) {
	for i := 0; i < len(certs)-1; i++ {
		if err := certs[i].CheckSignatureFrom(certs[i+1]); err != nil {
			return false, fmt.Errorf("%w: certificate chain broken at depth %d", ErrSignatureInvalid, i)
		}
	}
	return false, nil
}

func verifierForKey(alg cose.Algorithm, key any) (cose.Verifier, error) {
	switch alg {
	case cose.AlgorithmEdDSA:
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: algorithm/key mismatch", ErrSignatureInvalid)
		}
		return cose.NewVerifier(alg, pub)
	case cose.AlgorithmES256, cose.AlgorithmES384, cose.AlgorithmES512:
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: algorithm/key mismatch", ErrSignatureInvalid)
		}
		return cose.NewVerifier(alg, pub)
	default:
		return nil, fmt.Errorf("%w: unsupported cose algorithm %d", ErrSignatureInvalid, alg)
	}
}

// timestampToken pulls the first RFC 3161 token out of the sigTst
// unprotected header, when present.
func timestampToken(msg *cose.Sign1Message) []byte {
	raw, ok := msg.Headers.Unprotected["sigTst"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[any]any)
	if !ok {
		return nil
	}
	tokens, ok := m["tstTokens"].([]any)
	if !ok || len(tokens) == 0 {
		return nil
	}
	entry, ok := tokens[0].(map[any]any)
	if !ok {
		return nil
	}
	val, ok := entry["val"].([]byte)
	if !ok {
		return nil
	}
	return val
}
