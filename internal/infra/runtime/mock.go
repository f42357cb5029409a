// Package runtime provides the concrete environment implementations: a
// Mock for development and a Nitro-backed hardware environment. Key
// material lives only in process memory; there is no persistence path.
package runtime

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	titlecrypto "title/internal/infra/crypto"
)

var errKeysNotGenerated = errors.New("keypair not generated")

// Mock is the development environment: OS randomness for keys and a
// zero-measurement attestation document, equivalent to a debug-mode
// enclave.
type Mock struct {
	mu            sync.RWMutex
	signingKey    ed25519.PrivateKey
	treeKey       ed25519.PrivateKey
	encryptionKey []byte // X25519 scalar
}

// NewMock returns an empty mock environment; keys are generated by the
// startup sequence.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) TeeType() string { return "mock" }

func (m *Mock) GenerateSigningKeypair() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing keypair: %w", err)
	}
	m.mu.Lock()
	m.signingKey = priv
	m.mu.Unlock()
	return nil
}

func (m *Mock) GenerateEncryptionKeypair() error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate encryption keypair: %w", err)
	}
	m.mu.Lock()
	m.encryptionKey = secret
	m.mu.Unlock()
	return nil
}

func (m *Mock) GenerateTreeKeypair() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate tree keypair: %w", err)
	}
	m.mu.Lock()
	m.treeKey = priv
	m.mu.Unlock()
	return nil
}

// mockAttestationDocument stands in for the COSE measurement document.
// PCR values are all zero, as in a debug-mode enclave.
type mockAttestationDocument struct {
	ModuleID         string `json:"module_id"`
	PCR0             []byte `json:"pcr0"`
	PCR1             []byte `json:"pcr1"`
	PCR2             []byte `json:"pcr2"`
	SigningPubkey    []byte `json:"signing_pubkey"`
	EncryptionPubkey []byte `json:"encryption_pubkey"`
}

func (m *Mock) Attestation() ([]byte, error) {
	doc := mockAttestationDocument{
		ModuleID:         "mock-enclave",
		PCR0:             make([]byte, 48),
		PCR1:             make([]byte, 48),
		PCR2:             make([]byte, 48),
		SigningPubkey:    m.SigningPubkey(),
		EncryptionPubkey: m.EncryptionPubkey(),
	}
	return json.Marshal(doc)
}

func (m *Mock) Sign(msg []byte) ([]byte, error) {
	m.mu.RLock()
	key := m.signingKey
	m.mu.RUnlock()
	if key == nil {
		return nil, errKeysNotGenerated
	}
	return ed25519.Sign(key, msg), nil
}

func (m *Mock) TreeSign(msg []byte) ([]byte, error) {
	m.mu.RLock()
	key := m.treeKey
	m.mu.RUnlock()
	if key == nil {
		return nil, errKeysNotGenerated
	}
	return ed25519.Sign(key, msg), nil
}

func (m *Mock) SigningPubkey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.signingKey == nil {
		return nil
	}
	return m.signingKey.Public().(ed25519.PublicKey)
}

func (m *Mock) TreePubkey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.treeKey == nil {
		return nil
	}
	return m.treeKey.Public().(ed25519.PublicKey)
}

func (m *Mock) EncryptionSecretKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.encryptionKey
}

func (m *Mock) EncryptionPubkey() []byte {
	m.mu.RLock()
	secret := m.encryptionKey
	m.mu.RUnlock()
	if secret == nil {
		return nil
	}
	pub, err := titlecrypto.X25519Public(secret)
	if err != nil {
		return nil
	}
	return pub
}
