package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// HKDF info string binding derived keys to this protocol.
const hkdfInfo = "title-protocol-e2ee"

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
)

var (
	ErrAuthTagMismatch = errors.New("aead authentication failed")
	ErrBadKeyLength    = errors.New("invalid key length")
)

// Sign signs msg with an Ed25519 private key.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature over msg.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// DeriveSharedSecret performs the X25519 Diffie-Hellman between a 32-byte
// secret scalar and a 32-byte peer public key.
func DeriveSharedSecret(secret, peerPublic []byte) ([]byte, error) {
	if len(secret) != curve25519.ScalarSize || len(peerPublic) != curve25519.PointSize {
		return nil, ErrBadKeyLength
	}
	shared, err := curve25519.X25519(secret, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("x25519: %w", err)
	}
	return shared, nil
}

// DeriveSymmetricKey expands a shared secret into the AES-256 session key
// via HKDF-SHA-256 with the protocol info string and no salt.
func DeriveSymmetricKey(sharedSecret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedSecret, nil, []byte(hkdfInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM. The returned ciphertext
// includes the tag.
func Seal(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts a Seal output. Any tamper yields ErrAuthTagMismatch.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthTagMismatch
	}
	return plaintext, nil
}

func newGCM(key []byte, nonceLen int) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeyLength
	}
	if nonceLen != NonceSize {
		return nil, errors.New("invalid nonce length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ContentHash derives the canonical content identifier from the active
// manifest's signature blob.
func ContentHash(manifestSignature []byte) [32]byte {
	return sha256.Sum256(manifestSignature)
}

// FormatContentHash renders a 32-byte hash as "0x" + lowercase hex.
func FormatContentHash(hash [32]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 2+64)
	out[0], out[1] = '0', 'x'
	for i, b := range hash {
		out[2+i*2] = digits[b>>4]
		out[2+i*2+1] = digits[b&0x0f]
	}
	return string(out)
}

// X25519Public returns the public point for a 32-byte secret scalar.
func X25519Public(secret []byte) ([]byte, error) {
	if len(secret) != curve25519.ScalarSize {
		return nil, ErrBadKeyLength
	}
	return curve25519.X25519(secret, curve25519.Basepoint)
}

// Zero wipes a buffer holding sensitive plaintext.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
