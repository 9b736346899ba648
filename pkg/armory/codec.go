package armory

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
)

// Binary layout of a .shuriken file, all integers little-endian:
//
//	magic            6 bytes, "HSRZEG"
//	metadata length  uint16
//	metadata         CBOR map
//	archive length   uint32
//	archive          tar.gz bytes
//	digest           32 bytes, SHA-256 over the archive bytes only
var magic = []byte("HSRZEG")

const (
	maxMetadataLen = 64 * 1024
	maxArchiveLen  = 1024 * 1024 * 1024

	headerLen = 6 + 2 // magic + metadata length
	digestLen = sha256.Size
)

// Encode serializes metadata and archive bytes into the package format.
// The digest is always computed here; callers cannot supply one.
func Encode(meta *Metadata, archive []byte) ([]byte, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	metaBytes, err := cbor.Marshal(meta)
	if err != nil {
		return nil, errors.NewFormatError("failed to encode package metadata", err).WithContext("name", meta.Name)
	}
	if len(metaBytes) > maxMetadataLen || len(metaBytes) > int(^uint16(0)) {
		return nil, errors.NewFormatError("package metadata too large", nil).
			WithContext("size", len(metaBytes)).
			WithContext("limit", maxMetadataLen)
	}
	if len(archive) > maxArchiveLen {
		return nil, errors.NewFormatError("package archive too large", nil).
			WithContext("size", len(archive)).
			WithContext("limit", maxArchiveLen)
	}

	digest := sha256.Sum256(archive)

	buf := bytes.NewBuffer(make([]byte, 0, headerLen+len(metaBytes)+4+len(archive)+digestLen))
	buf.Write(magic)

	var metaLen [2]byte
	binary.LittleEndian.PutUint16(metaLen[:], uint16(len(metaBytes)))
	buf.Write(metaLen[:])
	buf.Write(metaBytes)

	var archiveLen [4]byte
	binary.LittleEndian.PutUint32(archiveLen[:], uint32(len(archive)))
	buf.Write(archiveLen[:])
	buf.Write(archive)

	buf.Write(digest[:])

	return buf.Bytes(), nil
}

// Decode parses a .shuriken byte stream, verifies its integrity digest,
// and returns the metadata and the raw archive bytes.
func Decode(data []byte) (*Metadata, []byte, error) {
	rest := data

	if len(rest) < len(magic) {
		return nil, nil, errors.NewFormatError("package truncated before magic", nil).WithContext("size", len(data))
	}
	if !bytes.Equal(rest[:len(magic)], magic) {
		return nil, nil, errors.NewFormatError("bad package magic", nil)
	}
	rest = rest[len(magic):]

	if len(rest) < 2 {
		return nil, nil, errors.NewFormatError("package truncated before metadata length", nil)
	}
	metaLen := int(binary.LittleEndian.Uint16(rest[:2]))
	rest = rest[2:]

	if len(rest) < metaLen {
		return nil, nil, errors.NewFormatError("package truncated inside metadata", nil).
			WithContext("declared", metaLen).
			WithContext("remaining", len(rest))
	}
	var meta Metadata
	if err := cbor.Unmarshal(rest[:metaLen], &meta); err != nil {
		return nil, nil, errors.NewFormatError("failed to decode package metadata", err)
	}
	rest = rest[metaLen:]

	if len(rest) < 4 {
		return nil, nil, errors.NewFormatError("package truncated before archive length", nil)
	}
	archiveLen := int(binary.LittleEndian.Uint32(rest[:4]))
	rest = rest[4:]

	if archiveLen > maxArchiveLen {
		return nil, nil, errors.NewFormatError("declared archive length exceeds limit", nil).
			WithContext("declared", archiveLen).
			WithContext("limit", maxArchiveLen)
	}
	if len(rest) < archiveLen {
		return nil, nil, errors.NewFormatError("package truncated inside archive", nil).
			WithContext("declared", archiveLen).
			WithContext("remaining", len(rest))
	}
	archive := rest[:archiveLen]
	rest = rest[archiveLen:]

	if len(rest) < digestLen {
		return nil, nil, errors.NewFormatError("package truncated inside digest trailer", nil)
	}
	if len(rest) > digestLen {
		return nil, nil, errors.NewFormatError("trailing data after digest", nil).
			WithContext("extra", len(rest)-digestLen)
	}

	digest := sha256.Sum256(archive)
	if !bytes.Equal(digest[:], rest[:digestLen]) {
		return nil, nil, errors.NewIntegrityError("archive digest mismatch", nil).WithContext("name", meta.Name)
	}

	return &meta, archive, nil
}
