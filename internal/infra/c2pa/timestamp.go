package c2pa

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"math/big"
	"time"
)

// RFC 3161 timestamp extraction. A manifest's claim signature may embed a
// TimeStampToken; the token's TSTInfo carries the genTime and the signer
// certificate identifies the timestamp authority.

var oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

type tsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type tsSignedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	EncapContentInfo tsEncapContentInfo
	Certificates     asn1.RawValue `asn1:"implicit,optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"implicit,optional,tag:1"`
	SignerInfos      asn1.RawValue `asn1:"set"`
}

type tsEncapContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

type tsMessageImprint struct {
	HashAlgorithm asn1.RawValue
	HashedMessage []byte
}

type tstInfo struct {
	Version        int
	Policy         asn1.ObjectIdentifier
	MessageImprint tsMessageImprint
	SerialNumber   *big.Int
	GenTime        time.Time     `asn1:"generalized"`
	Accuracy       asn1.RawValue `asn1:"optional"`
	Ordering       bool          `asn1:"optional"`
	Nonce          *big.Int      `asn1:"optional"`
	TSA            asn1.RawValue `asn1:"optional,tag:0"`
	Extensions     asn1.RawValue `asn1:"optional,tag:1"`
}

// TimestampInfo is one decoded, trust-checked timestamp.
type TimestampInfo struct {
	Timestamp  uint64 // unix seconds
	PubkeyHash string // hex SHA-256 of the signer's SubjectPublicKeyInfo
	Token      []byte // raw DER TimeStampToken
}

// ExtractTimestamp returns the earliest embedded timestamp whose signer
// key hash the caller trusts, or nil when no manifest carries one.
func ExtractTimestamp(set *VerifiedManifestSet, trusted func(pubkeyHash string) bool) *TimestampInfo {
	var best *TimestampInfo
	for i := range set.Store.Manifests {
		m := &set.Store.Manifests[i]
		if m.TimestampToken == nil {
			continue
		}
		info, err := parseTimestampToken(m.TimestampToken)
		if err != nil {
			continue
		}
		if trusted != nil && !trusted(info.PubkeyHash) {
			continue
		}
		if best == nil || info.Timestamp < best.Timestamp {
			best = info
		}
	}
	return best
}

func parseTimestampToken(der []byte) (*TimestampInfo, error) {
	var ci tsContentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, err
	}
	if !ci.ContentType.Equal(oidSignedData) {
		return nil, asn1.SyntaxError{Msg: "not a SignedData token"}
	}
	var sd tsSignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, err
	}
	var info tstInfo
	if _, err := asn1.Unmarshal(sd.EncapContentInfo.EContent, &info); err != nil {
		return nil, err
	}

	pubkeyHash := ""
	if len(sd.Certificates.Bytes) > 0 {
		if certs, err := x509.ParseCertificates(sd.Certificates.Bytes); err == nil && len(certs) > 0 {
			sum := sha256.Sum256(certs[0].RawSubjectPublicKeyInfo)
			pubkeyHash = hex.EncodeToString(sum[:])
		}
	}

	return &TimestampInfo{
		Timestamp:  uint64(info.GenTime.Unix()),
		PubkeyHash: pubkeyHash,
		Token:      der,
	}, nil
}
