package usecase

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"

	"title/internal/domain"
	"title/internal/infra/bridge"
	titlecrypto "title/internal/infra/crypto"
	"title/internal/infra/runtime"
	"title/internal/infra/wasm"
)

// fakeFetcher serves canned bodies by URL.
type fakeFetcher struct {
	responses map[string][]byte
}

func (f *fakeFetcher) NewReservation() *bridge.Reservation {
	return bridge.NewReservation(nil)
}

func (f *fakeFetcher) Get(_ context.Context, url string, maxSize uint64, _ domain.ResolvedBudget, _ *bridge.Reservation) ([]byte, error) {
	body, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("%w: no response for %s", domain.ErrProxy, url)
	}
	if uint64(len(body)) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes over cap %d", domain.ErrPayloadTooLarge, len(body), maxSize)
	}
	return body, nil
}

// fakeRegistry trusts a fixed id set; fakeRunner records the inputs each
// instantiation saw.
type fakeRegistry struct {
	trusted map[string]domain.TrustedWasmModule
}

func (r *fakeRegistry) Resolve(_ context.Context, id string) (*wasm.Binary, domain.TrustedWasmModule, error) {
	record, ok := r.trusted[id]
	if !ok {
		return nil, domain.TrustedWasmModule{}, fmt.Errorf("%w: untrusted extension %q", domain.ErrForbidden, id)
	}
	return &wasm.Binary{Bytes: []byte("module-bytes"), Source: record.Source}, record, nil
}

func (r *fakeRegistry) SupportedExtensions() []string {
	out := make([]string, 0, len(r.trusted))
	for id := range r.trusted {
		out = append(out, id)
	}
	return out
}

type runnerCall struct {
	input []byte
}

type fakeRunner struct {
	output []byte
	calls  []runnerCall
}

func (r *fakeRunner) Execute(_, _, extensionInput []byte) ([]byte, error) {
	r.calls = append(r.calls, runnerCall{input: append([]byte(nil), extensionInput...)})
	return r.output, nil
}

func newEnv(t *testing.T) domain.Environment {
	t.Helper()
	env := runtime.NewMock()
	if err := env.GenerateSigningKeypair(); err != nil {
		t.Fatal(err)
	}
	if err := env.GenerateEncryptionKeypair(); err != nil {
		t.Fatal(err)
	}
	if err := env.GenerateTreeKeypair(); err != nil {
		t.Fatal(err)
	}
	return env
}

func activeState(t *testing.T) *EnvironmentState {
	t.Helper()
	s := NewEnvironmentState()
	tree := make([]byte, 32)
	if _, err := rand.Read(tree); err != nil {
		t.Fatal(err)
	}
	if err := s.Activate(solana.PublicKeyFromBytes(tree)); err != nil {
		t.Fatal(err)
	}
	return s
}

// encryptForEnv performs the client side of the hybrid encryption and
// returns the stored envelope plus the session key.
func encryptForEnv(t *testing.T, env domain.Environment, payload domain.ClientPayload) ([]byte, []byte) {
	t.Helper()
	ephemeralSecret := make([]byte, 32)
	if _, err := rand.Read(ephemeralSecret); err != nil {
		t.Fatal(err)
	}
	ephemeralPub, err := titlecrypto.X25519Public(ephemeralSecret)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := titlecrypto.DeriveSharedSecret(ephemeralSecret, env.EncryptionPubkey())
	if err != nil {
		t.Fatal(err)
	}
	key, err := titlecrypto.DeriveSymmetricKey(shared)
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, titlecrypto.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}
	ciphertext, err := titlecrypto.Seal(key, nonce, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	envelope, err := json.Marshal(domain.EncryptedEnvelope{
		EphemeralPubkey: base64.StdEncoding.EncodeToString(ephemeralPub),
		Nonce:           base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:      base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		t.Fatal(err)
	}
	return envelope, key
}

// openResponse decrypts the sealed verify response with the session key.
func openResponse(t *testing.T, key []byte, resp *domain.EncryptedResponse) *domain.VerifyResponse {
	t.Helper()
	nonce, err := base64.StdEncoding.DecodeString(resp.Nonce)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(resp.Ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := titlecrypto.Open(key, nonce, ciphertext)
	if err != nil {
		t.Fatalf("open response: %v", err)
	}
	var out domain.VerifyResponse
	if err := json.Unmarshal(plaintext, &out); err != nil {
		t.Fatal(err)
	}
	return &out
}
