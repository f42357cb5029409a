package attestation

import (
	"errors"
	"testing"
)

func TestVerifyUnsupportedTeeType(t *testing.T) {
	if _, err := Verify("intel_tdx", []byte{0x01}); !errors.Is(err, ErrUnsupportedTeeType) {
		t.Fatalf("expected ErrUnsupportedTeeType, got %v", err)
	}
}

func TestVerifyNitroRejectsGarbage(t *testing.T) {
	if _, err := Verify("aws_nitro", []byte("not cbor")); !errors.Is(err, ErrCoseParse) {
		t.Fatalf("expected ErrCoseParse, got %v", err)
	}
}

func TestVerifyMeasurements(t *testing.T) {
	result := &Result{
		Measurements: map[string][]byte{
			"PCR0": {0x01, 0x02},
			"PCR1": {0x03},
		},
	}
	if !VerifyMeasurements(result, map[string][]byte{"PCR0": {0x01, 0x02}}) {
		t.Fatal("matching subset rejected")
	}
	if VerifyMeasurements(result, map[string][]byte{"PCR0": {0xFF}}) {
		t.Fatal("mismatched value accepted")
	}
	if VerifyMeasurements(result, map[string][]byte{"PCR2": {0x01}}) {
		t.Fatal("missing register accepted")
	}
	if !VerifyMeasurements(result, nil) {
		t.Fatal("empty expectation must pass")
	}
}

func TestVerifyPublicKey(t *testing.T) {
	result := &Result{PublicKey: []byte{0x01, 0x02}}
	if !VerifyPublicKey(result, []byte{0x01, 0x02}) {
		t.Fatal("matching key rejected")
	}
	if VerifyPublicKey(result, []byte{0x01}) {
		t.Fatal("mismatched key accepted")
	}
	if VerifyPublicKey(&Result{}, []byte{0x01}) {
		t.Fatal("absent key accepted")
	}
}
