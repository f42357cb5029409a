// Package attestation parses and verifies platform measurement documents:
// the COSE-signed blobs that bind a freshly generated public key to the
// hosting environment's boot state.
package attestation

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedTeeType = errors.New("unsupported tee type")
	ErrCoseParse          = errors.New("cose parse failed")
	ErrCertChain          = errors.New("certificate chain invalid")
	ErrSignature          = errors.New("attestation signature invalid")
	ErrMissingField       = errors.New("attestation field missing")
)

// Result is the platform-independent view of a verified document.
type Result struct {
	TeeType      string
	Measurements map[string][]byte
	PublicKey    []byte
	UserData     []byte
	Nonce        []byte
	Timestamp    uint64
}

// Verify validates a measurement document for the named platform and
// returns its extracted contents.
func Verify(teeType string, document []byte) (*Result, error) {
	switch teeType {
	case "aws_nitro":
		return verifyNitro(document)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTeeType, teeType)
	}
}

// VerifyMeasurements compares the extracted measurements against an
// expected map; every expected key must be present and equal.
func VerifyMeasurements(result *Result, expected map[string][]byte) bool {
	for key, want := range expected {
		got, ok := result.Measurements[key]
		if !ok || !bytes.Equal(got, want) {
			return false
		}
	}
	return true
}

// VerifyPublicKey checks the public key bound into the document.
func VerifyPublicKey(result *Result, expected []byte) bool {
	return result.PublicKey != nil && bytes.Equal(result.PublicKey, expected)
}
