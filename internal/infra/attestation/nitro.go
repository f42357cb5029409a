package attestation

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// AWS Nitro attestation PKI root certificate (DER, base64).
//
// Subject: CN=aws.nitro-enclaves, O=Amazon, OU=AWS, C=US
// Validity: 2019-10-28 .. 2049-10-28, ECDSA P-384.
const awsNitroRootCertB64 = "MIICETCCAZagAwIBAgIRAPkxdWgbkK/hHUbMtOTn+FYwCgYIKoZIzj0EAwMwSTEL" +
	"MAkGA1UEBhMCVVMxDzANBgNVBAoMBkFtYXpvbjEMMAoGA1UECwwDQVdTMRswGQYD" +
	"VQQDDBJhd3Mubml0cm8tZW5jbGF2ZXMwHhcNMTkxMDI4MTMyODA1WhcNNDkxMDI4" +
	"MTQyODA1WjBJMQswCQYDVQQGEwJVUzEPMA0GA1UECgwGQW1hem9uMQwwCgYDVQQL" +
	"DANBV1MxGzAZBgNVBAMMEmF3cy5uaXRyby1lbmNsYXZlczB2MBAGByqGSM49AgEG" +
	"BSuBBAAiA2IABPwCVOumCMHzaHDimtqQvkY4MpJzbolL//Zy2YlES1BR5TSksfbb" +
	"48C8WBoyt7F2Bw7eEtaaP+ohG2bnUs990d0JX28TcPQXCEPZ3BABIeTPYwEoCWZE" +
	"h8l5YoQwTcU/9KNCMEAwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUkCW1DdkF" +
	"R+eWw5b6cp3PmanfS5YwDgYDVR0PAQH/BAQDAgGGMAoGCCqGSM49BAMDA2kAMGYC" +
	"MQCjfy+Rocm9Xue4YnwWmNJVA44fA0P5W2OpYow9OYCVRaEevL8uO1XYru5xtMPW" +
	"rfMCMQCi85sWBbJwKKXdS6BptQFuZbT73o/gBh1qUxl/nNr12UO8Yfwr6wPLb+6N" +
	"IwLz3/Y="

// nitroDocument is the CBOR payload of the COSE Sign1 envelope.
type nitroDocument struct {
	ModuleID    string           `cbor:"module_id"`
	Digest      string           `cbor:"digest"`
	Timestamp   uint64           `cbor:"timestamp"`
	PCRs        map[uint][]byte  `cbor:"pcrs"`
	Certificate []byte           `cbor:"certificate"`
	CABundle    [][]byte         `cbor:"cabundle"`
	PublicKey   []byte           `cbor:"public_key"`
	UserData    []byte           `cbor:"user_data"`
	Nonce       []byte           `cbor:"nonce"`
}

// verifyNitro validates a Nitro attestation document end to end:
// COSE Sign1 parse, certificate chain up to the AWS root, ES384
// signature by the leaf, field extraction.
func verifyNitro(document []byte) (*Result, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCoseParse, err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("%w: payload", ErrMissingField)
	}

	var doc nitroDocument
	if err := cbor.Unmarshal(msg.Payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: payload cbor: %v", ErrCoseParse, err)
	}
	if len(doc.Certificate) == 0 {
		return nil, fmt.Errorf("%w: certificate", ErrMissingField)
	}

	leaf, err := verifyNitroChain(doc.Certificate, doc.CABundle)
	if err != nil {
		return nil, err
	}

	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: leaf key is not ECDSA", ErrCertChain)
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES384, pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, ErrSignature
	}

	measurements := make(map[string][]byte, len(doc.PCRs))
	for idx, value := range doc.PCRs {
		measurements[fmt.Sprintf("PCR%d", idx)] = value
	}

	return &Result{
		TeeType:      "aws_nitro",
		Measurements: measurements,
		PublicKey:    doc.PublicKey,
		UserData:     doc.UserData,
		Nonce:        doc.Nonce,
		Timestamp:    doc.Timestamp,
	}, nil
}

// verifyNitroChain validates leaf → intermediates → AWS root and returns
// the parsed leaf.
func verifyNitroChain(leafDER []byte, bundle [][]byte) (*x509.Certificate, error) {
	rootDER, err := base64.StdEncoding.DecodeString(awsNitroRootCertB64)
	if err != nil {
		return nil, fmt.Errorf("%w: root decode: %v", ErrCertChain, err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, fmt.Errorf("%w: root parse: %v", ErrCertChain, err)
	}

	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("%w: leaf parse: %v", ErrCertChain, err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	intermediates := x509.NewCertPool()
	for _, der := range bundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: intermediate parse: %v", ErrCertChain, err)
		}
		intermediates.AddCert(cert)
	}

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertChain, err)
	}
	return leaf, nil
}
