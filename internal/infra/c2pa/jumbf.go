package c2pa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// JUMBF (ISO 19566-5) box parsing. A manifest store is a superbox tree:
// the top-level "jumb" superbox is the store, each child "jumb" superbox
// is one manifest, and inside a manifest the claim, claim signature and
// assertion store live in further superboxes identified by description
// labels and UUIDs.

const boxHeaderSize = 8

// Box types.
const (
	boxTypeJUMB = 0x6A756D62 // "jumb" superbox
	boxTypeJUMD = 0x6A756D64 // "jumd" description box
	boxTypeCBOR = 0x63626F72 // "cbor" content box
	boxTypeJSON = 0x6A736F6E // "json" content box
)

// Content-type UUIDs assigned by the C2PA spec.
var (
	uuidSignature      = [16]byte{0x63, 0x32, 0x63, 0x73, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	uuidClaim          = [16]byte{0x63, 0x32, 0x63, 0x6C, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
	uuidAssertionStore = [16]byte{0x63, 0x32, 0x61, 0x73, 0x00, 0x11, 0x00, 0x10, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}
)

// maxSignatureSize caps the claim signature blob; larger boxes are
// treated as malformed.
const maxSignatureSize = 16 * 1024 * 1024

// superbox is a parsed "jumb" box: its description plus raw child ranges.
type superbox struct {
	uuid    [16]byte
	label   string
	content []byte // bytes after the description box, still box-framed
}

type boxHeader struct {
	boxType uint32
	size    uint64
	hdrLen  int
}

func readBoxHeader(data []byte) (boxHeader, error) {
	if len(data) < boxHeaderSize {
		return boxHeader{}, errTruncated
	}
	size := uint64(binary.BigEndian.Uint32(data[0:4]))
	boxType := binary.BigEndian.Uint32(data[4:8])
	hdrLen := boxHeaderSize
	if size == 1 {
		if len(data) < 16 {
			return boxHeader{}, errTruncated
		}
		size = binary.BigEndian.Uint64(data[8:16])
		hdrLen = 16
	}
	if size != 0 && size < uint64(hdrLen) {
		return boxHeader{}, fmt.Errorf("%w: box size %d below header", ErrMalformedStore, size)
	}
	return boxHeader{boxType: boxType, size: size, hdrLen: hdrLen}, nil
}

var errTruncated = fmt.Errorf("%w: truncated box", ErrMalformedStore)

// parseSuperbox parses one "jumb" superbox from the start of data and
// returns it together with its total encoded length.
func parseSuperbox(data []byte) (*superbox, int, error) {
	hdr, err := readBoxHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if hdr.boxType != boxTypeJUMB {
		return nil, 0, fmt.Errorf("%w: expected jumb box", ErrMalformedStore)
	}
	if hdr.size > uint64(len(data)) {
		return nil, 0, errTruncated
	}
	body := data[hdr.hdrLen:hdr.size]

	descHdr, err := readBoxHeader(body)
	if err != nil {
		return nil, 0, err
	}
	if descHdr.boxType != boxTypeJUMD {
		return nil, 0, fmt.Errorf("%w: superbox without description", ErrMalformedStore)
	}
	if descHdr.size > uint64(len(body)) {
		return nil, 0, errTruncated
	}
	uuid, label, err := parseDescription(body[descHdr.hdrLen:descHdr.size])
	if err != nil {
		return nil, 0, err
	}

	return &superbox{
		uuid:    uuid,
		label:   label,
		content: body[descHdr.size:],
	}, int(hdr.size), nil
}

// parseDescription reads the UUID, toggles and optional null-terminated
// label of a jumd box body.
func parseDescription(body []byte) ([16]byte, string, error) {
	var uuid [16]byte
	if len(body) < 17 {
		return uuid, "", fmt.Errorf("%w: description box too short", ErrMalformedStore)
	}
	copy(uuid[:], body[:16])
	toggles := body[16]
	label := ""
	if toggles&0x02 != 0 {
		rest := body[17:]
		idx := bytes.IndexByte(rest, 0)
		if idx < 0 {
			return uuid, "", fmt.Errorf("%w: unterminated label", ErrMalformedStore)
		}
		label = string(rest[:idx])
	}
	return uuid, label, nil
}

// childSuperboxes iterates the direct "jumb" children of a superbox.
func (sb *superbox) childSuperboxes() ([]*superbox, error) {
	var out []*superbox
	rest := sb.content
	for len(rest) > 0 {
		hdr, err := readBoxHeader(rest)
		if err != nil {
			if errors.Is(err, errTruncated) && len(rest) < boxHeaderSize {
				break
			}
			return nil, err
		}
		if hdr.size == 0 || hdr.size > uint64(len(rest)) {
			break
		}
		if hdr.boxType == boxTypeJUMB {
			child, _, err := parseSuperbox(rest[:hdr.size])
			if err != nil {
				return nil, err
			}
			out = append(out, child)
		}
		rest = rest[hdr.size:]
	}
	return out, nil
}

// dataBox returns the payload of the first content box of the given type
// inside the superbox.
func (sb *superbox) dataBox(boxType uint32) ([]byte, error) {
	rest := sb.content
	for len(rest) >= boxHeaderSize {
		hdr, err := readBoxHeader(rest)
		if err != nil {
			return nil, err
		}
		if hdr.size == 0 || hdr.size > uint64(len(rest)) {
			break
		}
		if hdr.boxType == boxType {
			payload := hdr.size - uint64(hdr.hdrLen)
			if payload > maxSignatureSize {
				return nil, fmt.Errorf("%w: content box exceeds %d bytes", ErrMalformedStore, maxSignatureSize)
			}
			return rest[hdr.hdrLen:hdr.size], nil
		}
		rest = rest[hdr.size:]
	}
	return nil, fmt.Errorf("%w: content box %08x not found", ErrMalformedStore, boxType)
}
