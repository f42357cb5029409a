package c2pa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gabriel-vasile/mimetype"

	"title/internal/domain"
)

// Engine errors. All wrap domain.ErrVerification so the dispatcher maps
// them to a single public status.
var (
	ErrNoManifest       = fmt.Errorf("%w: no manifest store", domain.ErrVerification)
	ErrMalformedStore   = fmt.Errorf("%w: malformed manifest store", domain.ErrVerification)
	ErrSignatureInvalid = fmt.Errorf("%w: claim signature invalid", domain.ErrVerification)
	ErrGraphTooLarge    = fmt.Errorf("%w: provenance graph too large", domain.ErrVerification)
)

// Labels the store layout hangs off.
const (
	storeLabel          = "c2pa"
	claimLabel          = "c2pa.claim"
	signatureLabel      = "c2pa.signature"
	assertionStoreLabel = "c2pa.assertions"
	ingredientPrefix    = "c2pa.ingredient"
)

// Ingredient is one input asset referenced by a manifest.
type Ingredient struct {
	Relationship  string
	Format        string
	ManifestLabel string // label of the embedded manifest, if any
}

// Manifest is one verified entry of a manifest store.
type Manifest struct {
	Label       string
	Format      string
	ClaimBytes  []byte
	Signature   []byte // raw COSE Sign1 blob; input to the content hash
	Ingredients []Ingredient

	// TimestampToken is the embedded RFC 3161 token, if the signature
	// carried one.
	TimestampToken []byte
}

// ManifestStore is the parsed, not-yet-verified store.
type ManifestStore struct {
	Manifests []Manifest
}

// Active returns the active manifest: the last one in the store.
func (s *ManifestStore) Active() *Manifest {
	if len(s.Manifests) == 0 {
		return nil
	}
	return &s.Manifests[len(s.Manifests)-1]
}

// ByLabel looks up a manifest by its store label.
func (s *ManifestStore) ByLabel(label string) *Manifest {
	for i := range s.Manifests {
		if s.Manifests[i].Label == label {
			return &s.Manifests[i]
		}
	}
	return nil
}

// ParseStore parses a raw JUMBF manifest store.
func ParseStore(jumbf []byte) (*ManifestStore, error) {
	top, _, err := parseSuperbox(jumbf)
	if err != nil {
		return nil, err
	}
	if top.label != storeLabel {
		return nil, fmt.Errorf("%w: top-level label %q", ErrMalformedStore, top.label)
	}
	children, err := top.childSuperboxes()
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, ErrNoManifest
	}

	store := &ManifestStore{}
	for _, child := range children {
		m, err := parseManifest(child)
		if err != nil {
			return nil, err
		}
		store.Manifests = append(store.Manifests, *m)
	}
	return store, nil
}

func parseManifest(sb *superbox) (*Manifest, error) {
	m := &Manifest{Label: sb.label}
	children, err := sb.childSuperboxes()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch {
		case child.uuid == uuidClaim || child.label == claimLabel:
			claim, err := child.dataBox(boxTypeCBOR)
			if err != nil {
				return nil, err
			}
			m.ClaimBytes = claim
		case child.uuid == uuidSignature || child.label == signatureLabel:
			sig, err := child.dataBox(boxTypeCBOR)
			if err != nil {
				return nil, err
			}
			m.Signature = sig
		case child.uuid == uuidAssertionStore || child.label == assertionStoreLabel:
			if err := parseAssertions(child, m); err != nil {
				return nil, err
			}
		}
	}
	if len(m.ClaimBytes) == 0 || len(m.Signature) == 0 {
		return nil, fmt.Errorf("%w: manifest %q missing claim or signature", ErrMalformedStore, m.Label)
	}
	if err := parseClaim(m); err != nil {
		return nil, err
	}
	return m, nil
}

// claimDoc is the subset of the claim CBOR the engine consumes.
type claimDoc struct {
	Format string `cbor:"dc:format"`
	Title  string `cbor:"dc:title"`
}

func parseClaim(m *Manifest) error {
	var claim claimDoc
	if err := cbor.Unmarshal(m.ClaimBytes, &claim); err != nil {
		return fmt.Errorf("%w: claim cbor: %v", ErrMalformedStore, err)
	}
	m.Format = claim.Format
	return nil
}

// ingredientAssertion mirrors the c2pa.ingredient assertion CBOR.
type ingredientAssertion struct {
	Relationship string     `cbor:"relationship"`
	Format       string     `cbor:"dc:format"`
	Manifest     *hashedURI `cbor:"c2pa_manifest"`
}

type hashedURI struct {
	URL  string `cbor:"url"`
	Hash []byte `cbor:"hash"`
}

func parseAssertions(store *superbox, m *Manifest) error {
	assertions, err := store.childSuperboxes()
	if err != nil {
		return err
	}
	for _, a := range assertions {
		if !strings.HasPrefix(a.label, ingredientPrefix) {
			continue
		}
		data, err := a.dataBox(boxTypeCBOR)
		if err != nil {
			continue
		}
		var ing ingredientAssertion
		if err := cbor.Unmarshal(data, &ing); err != nil {
			return fmt.Errorf("%w: ingredient assertion: %v", ErrMalformedStore, err)
		}
		ingredient := Ingredient{
			Relationship: ing.Relationship,
			Format:       ing.Format,
		}
		if ing.Manifest != nil {
			ingredient.ManifestLabel = manifestLabelFromURI(ing.Manifest.URL)
		}
		m.Ingredients = append(m.Ingredients, ingredient)
	}
	return nil
}

// manifestLabelFromURI resolves a self#jumbf=/c2pa/<label> reference to
// the bare manifest label.
func manifestLabelFromURI(uri string) string {
	idx := strings.LastIndexByte(uri, '/')
	if idx < 0 {
		return uri
	}
	return uri[idx+1:]
}

// ---------------------------------------------------------------------------
// Container extraction
// ---------------------------------------------------------------------------

// ExtractJUMBF locates the embedded manifest store inside a media
// container. JPEG carries it in APP11 segments, PNG in a caBX chunk; a
// bare JUMBF stream (sidecar) passes through unchanged.
func ExtractJUMBF(content []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(content, []byte{0xFF, 0xD8, 0xFF}):
		return jumbfFromJPEG(content)
	case bytes.HasPrefix(content, []byte{0x89, 0x50, 0x4E, 0x47}):
		return jumbfFromPNG(content)
	case looksLikeJUMBF(content):
		return content, nil
	default:
		return nil, ErrNoManifest
	}
}

func looksLikeJUMBF(content []byte) bool {
	if len(content) < boxHeaderSize {
		return false
	}
	return binary.BigEndian.Uint32(content[4:8]) == boxTypeJUMB
}

// jumbfFromJPEG reassembles the JUMBF stream from APP11 marker segments.
// Each segment payload is CI("JP") + box instance (2B) + packet sequence
// (4B) + LBox + TBox + data; continuation segments repeat the LBox/TBox
// prefix, which is stripped after the first packet.
func jumbfFromJPEG(content []byte) ([]byte, error) {
	var out bytes.Buffer
	pos := 2 // skip SOI
	seen := false
	for pos+4 <= len(content) {
		if content[pos] != 0xFF {
			break
		}
		marker := content[pos+1]
		if marker == 0xD9 || marker == 0xDA { // EOI / SOS
			break
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			pos += 2
			continue
		}
		segLen := int(binary.BigEndian.Uint16(content[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(content) {
			return nil, fmt.Errorf("%w: truncated jpeg segment", ErrMalformedStore)
		}
		if marker == 0xEB { // APP11
			payload := content[pos+4 : pos+2+segLen]
			if len(payload) >= 16 && payload[0] == 'J' && payload[1] == 'P' {
				seq := binary.BigEndian.Uint32(payload[4:8])
				boxData := payload[8:]
				if seq > 1 && len(boxData) > boxHeaderSize {
					// Continuation packets repeat the box header.
					boxData = boxData[boxHeaderSize:]
				}
				out.Write(boxData)
				seen = true
			}
		}
		pos += 2 + segLen
	}
	if !seen {
		return nil, ErrNoManifest
	}
	return out.Bytes(), nil
}

// jumbfFromPNG returns the payload of the first caBX chunk.
func jumbfFromPNG(content []byte) ([]byte, error) {
	pos := 8 // signature
	for pos+12 <= len(content) {
		length := int(binary.BigEndian.Uint32(content[pos : pos+4]))
		ctype := string(content[pos+4 : pos+8])
		if pos+12+length > len(content) {
			return nil, fmt.Errorf("%w: truncated png chunk", ErrMalformedStore)
		}
		if ctype == "caBX" {
			return content[pos+8 : pos+8+length], nil
		}
		if ctype == "IEND" {
			break
		}
		pos += 12 + length
	}
	return nil, ErrNoManifest
}

// DetectContentType sniffs the payload's media type from its magic bytes;
// the client-declared type is never trusted.
func DetectContentType(content []byte) string {
	switch {
	case bytes.HasPrefix(content, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(content, []byte{0x89, 0x50, 0x4E, 0x47}):
		return "image/png"
	case len(content) >= 12 && bytes.Equal(content[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return mimetype.Detect(content).String()
	}
}
