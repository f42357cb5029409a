package runtime

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"

	titlecrypto "title/internal/infra/crypto"
)

// Nitro is the hardware environment. Entropy comes from the platform
// security module, and the attestation document binds the freshly
// generated signing and encryption public keys to the enclave's PCR
// measurements.
type Nitro struct {
	mu            sync.RWMutex
	signingKey    ed25519.PrivateKey
	treeKey       ed25519.PrivateKey
	encryptionKey []byte

	openSession func() (nsmSession, error)
}

// nsmSession is the slice of the NSM device the environment uses.
type nsmSession interface {
	io.Reader
	Send(req request.Request) (interface{ AttestationDoc() []byte }, error)
	Close() error
}

// nsmDevice adapts the real device session.
type nsmDevice struct {
	s *nsm.Session
}

type attestationResponse struct {
	doc []byte
}

func (r attestationResponse) AttestationDoc() []byte { return r.doc }

func (d nsmDevice) Read(p []byte) (int, error) { return d.s.Read(p) }
func (d nsmDevice) Close() error               { return d.s.Close() }

func (d nsmDevice) Send(req request.Request) (interface{ AttestationDoc() []byte }, error) {
	res, err := d.s.Send(req)
	if err != nil {
		return nil, err
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, errors.New("nsm returned no attestation document")
	}
	return attestationResponse{doc: res.Attestation.Document}, nil
}

// NewNitro returns a hardware environment backed by the default NSM
// device session.
func NewNitro() *Nitro {
	return &Nitro{
		openSession: func() (nsmSession, error) {
			s, err := nsm.OpenDefaultSession()
			if err != nil {
				return nil, err
			}
			return nsmDevice{s: s}, nil
		},
	}
}

func (n *Nitro) TeeType() string { return "aws_nitro" }

// entropy reads key material from the security module.
func (n *Nitro) entropy(size int) ([]byte, error) {
	session, err := n.openSession()
	if err != nil {
		return nil, fmt.Errorf("open nsm session: %w", err)
	}
	defer session.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(session, buf); err != nil {
		return nil, fmt.Errorf("read nsm entropy: %w", err)
	}
	return buf, nil
}

func (n *Nitro) GenerateSigningKeypair() error {
	seed, err := n.entropy(ed25519.SeedSize)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.signingKey = ed25519.NewKeyFromSeed(seed)
	n.mu.Unlock()
	titlecrypto.Zero(seed)
	return nil
}

func (n *Nitro) GenerateEncryptionKeypair() error {
	secret, err := n.entropy(32)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.encryptionKey = secret
	n.mu.Unlock()
	return nil
}

func (n *Nitro) GenerateTreeKeypair() error {
	seed, err := n.entropy(ed25519.SeedSize)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.treeKey = ed25519.NewKeyFromSeed(seed)
	n.mu.Unlock()
	titlecrypto.Zero(seed)
	return nil
}

// Attestation requests a fresh measurement document with the signing key
// in public_key and the encryption key in user_data.
func (n *Nitro) Attestation() ([]byte, error) {
	session, err := n.openSession()
	if err != nil {
		return nil, fmt.Errorf("open nsm session: %w", err)
	}
	defer session.Close()

	res, err := session.Send(&request.Attestation{
		PublicKey: n.SigningPubkey(),
		UserData:  n.EncryptionPubkey(),
	})
	if err != nil {
		return nil, fmt.Errorf("request attestation: %w", err)
	}
	return res.AttestationDoc(), nil
}

func (n *Nitro) Sign(msg []byte) ([]byte, error) {
	n.mu.RLock()
	key := n.signingKey
	n.mu.RUnlock()
	if key == nil {
		return nil, errKeysNotGenerated
	}
	return ed25519.Sign(key, msg), nil
}

func (n *Nitro) TreeSign(msg []byte) ([]byte, error) {
	n.mu.RLock()
	key := n.treeKey
	n.mu.RUnlock()
	if key == nil {
		return nil, errKeysNotGenerated
	}
	return ed25519.Sign(key, msg), nil
}

func (n *Nitro) SigningPubkey() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.signingKey == nil {
		return nil
	}
	return n.signingKey.Public().(ed25519.PublicKey)
}

func (n *Nitro) TreePubkey() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.treeKey == nil {
		return nil
	}
	return n.treeKey.Public().(ed25519.PublicKey)
}

func (n *Nitro) EncryptionSecretKey() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.encryptionKey
}

func (n *Nitro) EncryptionPubkey() []byte {
	n.mu.RLock()
	secret := n.encryptionKey
	n.mu.RUnlock()
	if secret == nil {
		return nil
	}
	pub, err := titlecrypto.X25519Public(secret)
	if err != nil {
		return nil
	}
	return pub
}
