// Package c2patest builds minimal signed manifest stores for tests: real
// COSE Sign1 claim signatures under freshly generated certificates,
// framed into JUMBF and embedded into carrier files.
package c2patest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Signer is a test signing credential: an Ed25519 key with a self-signed
// certificate.
type Signer struct {
	Key     ed25519.PrivateKey
	CertDER []byte
}

// NewSigner generates a fresh credential.
func NewSigner(t *testing.T) *Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "c2patest signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &Signer{Key: priv, CertDER: der}
}

// ManifestSpec describes one manifest to place in the store.
type ManifestSpec struct {
	Label       string
	Format      string
	Ingredients []string // labels of other manifests in the same store
}

// Box types and UUIDs mirroring the store layout under test.
const (
	boxJUMB = 0x6A756D62
	boxJUMD = 0x6A756D64
	boxCBOR = 0x63626F72
)

var (
	uuidSig       = [16]byte{0x63, 0x32, 0x63, 0x73, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	uuidClaim     = [16]byte{0x63, 0x32, 0x63, 0x6C, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	uuidAssertion = [16]byte{0x63, 0x32, 0x61, 0x73, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	uuidCBORBox   = [16]byte{0x63, 0x62, 0x6F, 0x72, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	uuidStore     = [16]byte{0x63, 0x32, 0x70, 0x61, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
)

// BuildStore assembles a signed JUMBF manifest store. The last spec
// becomes the active manifest.
func BuildStore(t *testing.T, signer *Signer, specs ...ManifestSpec) []byte {
	t.Helper()
	var manifests [][]byte
	for _, spec := range specs {
		manifests = append(manifests, buildManifest(t, signer, spec))
	}
	return superbox(uuidStore, "c2pa", manifests...)
}

// SignedJPEG builds a store and embeds it into a minimal JPEG carrier.
func SignedJPEG(t *testing.T, signer *Signer, specs ...ManifestSpec) []byte {
	t.Helper()
	return EmbedJPEG(t, BuildStore(t, signer, specs...))
}

func buildManifest(t *testing.T, signer *Signer, spec ManifestSpec) []byte {
	t.Helper()
	format := spec.Format
	if format == "" {
		format = "image/jpeg"
	}
	claim, err := cbor.Marshal(map[string]any{
		"dc:format": format,
		"dc:title":  spec.Label,
	})
	if err != nil {
		t.Fatalf("marshal claim: %v", err)
	}

	sig := signClaim(t, signer, claim)

	var assertions [][]byte
	for i, ingLabel := range spec.Ingredients {
		ing, err := cbor.Marshal(map[string]any{
			"relationship": "inputTo",
			"dc:format":    "image/jpeg",
			"c2pa_manifest": map[string]any{
				"url":  "self#jumbf=/c2pa/" + ingLabel,
				"hash": []byte{0x01, 0x02},
			},
		})
		if err != nil {
			t.Fatalf("marshal ingredient: %v", err)
		}
		label := "c2pa.ingredient"
		if i > 0 {
			label = "c2pa.ingredient__" + string(rune('0'+i))
		}
		assertions = append(assertions, superbox(uuidCBORBox, label, contentBox(boxCBOR, ing)))
	}

	children := [][]byte{
		superbox(uuidAssertion, "c2pa.assertions", assertions...),
		superbox(uuidClaim, "c2pa.claim", contentBox(boxCBOR, claim)),
		superbox(uuidSig, "c2pa.signature", contentBox(boxCBOR, sig)),
	}
	return superbox(uuidStore, spec.Label, children...)
}

func signClaim(t *testing.T, signer *Signer, claim []byte) []byte {
	t.Helper()
	coseSigner, err := cose.NewSigner(cose.AlgorithmEdDSA, signer.Key)
	if err != nil {
		t.Fatalf("cose signer: %v", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = cose.AlgorithmEdDSA
	msg.Headers.Protected[cose.HeaderLabelX5Chain] = signer.CertDER
	msg.Payload = claim
	if err := msg.Sign(rand.Reader, nil, coseSigner); err != nil {
		t.Fatalf("cose sign: %v", err)
	}
	out, err := msg.MarshalCBOR()
	if err != nil {
		t.Fatalf("cose marshal: %v", err)
	}
	return out
}

// EmbedJPEG wraps a JUMBF stream into APP11 segments of a bare JPEG.
func EmbedJPEG(t *testing.T, jumbf []byte) []byte {
	t.Helper()
	const maxBoxData = 65000
	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xD8}) // SOI

	header := jumbf[:8]
	seq := uint32(1)
	for off := 0; off < len(jumbf); {
		chunk := len(jumbf) - off
		if chunk > maxBoxData {
			chunk = maxBoxData
		}
		var payload bytes.Buffer
		payload.WriteString("JP")
		payload.Write([]byte{0x00, 0x01}) // box instance
		var seqb [4]byte
		binary.BigEndian.PutUint32(seqb[:], seq)
		payload.Write(seqb[:])
		if seq > 1 {
			payload.Write(header)
		}
		payload.Write(jumbf[off : off+chunk])

		out.Write([]byte{0xFF, 0xEB})
		var lenb [2]byte
		binary.BigEndian.PutUint16(lenb[:], uint16(payload.Len()+2))
		out.Write(lenb[:])
		out.Write(payload.Bytes())

		off += chunk
		seq++
	}
	out.Write([]byte{0xFF, 0xD9}) // EOI
	return out.Bytes()
}

func contentBox(boxType uint32, payload []byte) []byte {
	var buf bytes.Buffer
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)+8))
	binary.BigEndian.PutUint32(hdr[4:8], boxType)
	buf.Write(hdr[:])
	buf.Write(payload)
	return buf.Bytes()
}

func superbox(uuid [16]byte, label string, children ...[]byte) []byte {
	var desc bytes.Buffer
	desc.Write(uuid[:])
	desc.WriteByte(0x02)
	desc.WriteString(label)
	desc.WriteByte(0)

	var inner bytes.Buffer
	inner.Write(contentBox(boxJUMD, desc.Bytes()))
	for _, c := range children {
		inner.Write(c)
	}
	return contentBox(boxJUMB, inner.Bytes())
}
