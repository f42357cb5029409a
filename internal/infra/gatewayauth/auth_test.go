package gatewayauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mr-tron/base58"

	"title/internal/domain"
	titlecrypto "title/internal/infra/crypto"
)

func signedEnvelope(t *testing.T, priv ed25519.PrivateKey, body string, budget *domain.ResourceBudget) []byte {
	t.Helper()
	target, err := titlecrypto.CanonicalizeAny(domain.GatewaySignTarget{
		Method:         "POST",
		Path:           "/verify",
		Body:           json.RawMessage(body),
		ResourceBudget: budget,
	})
	if err != nil {
		t.Fatal(err)
	}
	sig := ed25519.Sign(priv, target)

	raw, err := json.Marshal(domain.GatewayEnvelope{
		Method:           "POST",
		Path:             "/verify",
		Body:             json.RawMessage(body),
		ResourceBudget:   budget,
		GatewaySignature: base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestVerifyValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	max := uint64(1024)
	budget := &domain.ResourceBudget{MaxSingleContentBytes: &max}
	raw := signedEnvelope(t, priv, `{"download_url":"http://x","processor_ids":["core-c2pa"]}`, budget)

	body, gotBudget, err := Verify(pub, raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var req domain.VerifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatal(err)
	}
	if req.DownloadURL != "http://x" {
		t.Fatalf("body: %+v", req)
	}
	if gotBudget == nil || *gotBudget.MaxSingleContentBytes != 1024 {
		t.Fatalf("budget: %+v", gotBudget)
	}
}

func TestVerifyMissingSignatureWithKeyConfigured(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = Verify(pub, []byte(`{"download_url":"http://x"}`))
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyWrongKeyRejected(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	raw := signedEnvelope(t, otherPriv, `{}`, nil)
	_, _, err = Verify(pub, raw)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyPassthroughWithoutKey(t *testing.T) {
	body, budget, err := Verify(nil, []byte(`{"recent_blockhash":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if budget != nil {
		t.Fatalf("unexpected budget: %+v", budget)
	}
	if string(body) != `{"recent_blockhash":"x"}` {
		t.Fatalf("body: %s", body)
	}
}

func TestParseGatewayPubkey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseGatewayPubkey(base58.Encode(pub))
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(pub) {
		t.Fatal("round trip mismatch")
	}

	if _, err := ParseGatewayPubkey("not-base58-!!!"); err == nil {
		t.Fatal("invalid encoding accepted")
	}
	if k, err := ParseGatewayPubkey(""); err != nil || k != nil {
		t.Fatalf("empty key: %v %v", k, err)
	}
}
