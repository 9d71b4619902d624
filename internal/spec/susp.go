package spec

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/itchio/headway/counter"
	"github.com/lunixbochs/struc"
	"io"
)

// SystemUseSignature is the two-character signature that identifies a System Use Sharing Protocol entry
type SystemUseSignature [2]uint8

var (
	SignatureContinuation     = SystemUseSignature{'C', 'E'}
	SignatureSharingProtocol  = SystemUseSignature{'S', 'P'}
	SignatureTerminator       = SystemUseSignature{'S', 'T'}
	SignatureExtensionsRef    = SystemUseSignature{'E', 'R'}
	SignaturePadding          = SystemUseSignature{'P', 'D'}
	SignatureRockRidge        = SystemUseSignature{'R', 'R'}
	SignaturePosixAttributes  = SystemUseSignature{'P', 'X'}
	SignaturePosixDevice      = SystemUseSignature{'P', 'N'}
	SignatureSymbolicLink     = SystemUseSignature{'S', 'L'}
	SignatureAlternateName    = SystemUseSignature{'N', 'M'}
	SignatureTimestamps       = SystemUseSignature{'T', 'F'}
	SignatureChildLink        = SystemUseSignature{'C', 'L'}
	SignatureParentLink       = SystemUseSignature{'P', 'L'}
	SignatureRelocated        = SystemUseSignature{'R', 'E'}
	SignatureSparseFile       = SystemUseSignature{'S', 'F'}
	SignatureZisofsCompressed = SystemUseSignature{'Z', 'F'}
)

func (s SystemUseSignature) String() string {
	return string(s[:])
}

// SystemUseEntryHeaderSize is the size of the signature, length and version fields that start every entry
const SystemUseEntryHeaderSize = 4

var ErrMalformedSystemUseEntry = errors.New("malformed system use entry")

// SystemUseEntry is a single entry of the System Use Sharing Protocol, stored in the system use area of a directory
// record or in a continuation area. The payload is kept as raw bytes; its layout depends on the signature.
//
// IEEE P1281 (SUSP 1.12) §4
type SystemUseEntry struct {
	Signature SystemUseSignature
	Version   uint8
	Data      []byte
}

// Len returns the encoded length of the entry
func (e *SystemUseEntry) Len() int {
	return SystemUseEntryHeaderSize + len(e.Data)
}

func (e *SystemUseEntry) WriteTo(w io.Writer) (int64, error) {
	if e.Len() > 0xFF {
		return 0, fmt.Errorf("%w: %s entry is %d bytes long", ErrMalformedSystemUseEntry, e.Signature, e.Len())
	}

	cw := counter.NewWriter(w)
	if _, err := cw.Write([]byte{e.Signature[0], e.Signature[1], uint8(e.Len()), e.Version}); err != nil {
		return cw.Count(), fmt.Errorf("failed to write system use entry header: %w", err)
	}

	if _, err := cw.Write(e.Data); err != nil {
		return cw.Count(), fmt.Errorf("failed to write system use entry payload: %w", err)
	}

	return cw.Count(), nil
}

// NewSystemUseEntry creates a version 1 entry whose payload is the struc encoding of payload
func NewSystemUseEntry(signature SystemUseSignature, payload any) (*SystemUseEntry, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, payload); err != nil {
		return nil, fmt.Errorf("could not pack %s payload: %w", signature, err)
	}

	return &SystemUseEntry{Signature: signature, Version: 1, Data: buf.Bytes()}, nil
}

// Unpack decodes the entry payload into a struc-compatible structure
func (e *SystemUseEntry) Unpack(payload any) error {
	if err := struc.Unpack(bytes.NewReader(e.Data), payload); err != nil {
		return fmt.Errorf("%w: could not unpack %s payload: %w", ErrMalformedSystemUseEntry, e.Signature, err)
	}

	return nil
}

// UnpackSystemUse splits a system use area into its entries. Decoding stops at a terminator entry, or when fewer than
// four bytes remain (trailing padding). Returned entries alias area.
func UnpackSystemUse(area []byte) ([]SystemUseEntry, error) {
	var entries []SystemUseEntry

	for offset := 0; offset+SystemUseEntryHeaderSize <= len(area); {
		length := int(area[offset+2])
		if length == 0 && area[offset] == 0 {
			// Zero padding
			break
		}

		if length < SystemUseEntryHeaderSize || offset+length > len(area) {
			return entries, fmt.Errorf("%w: entry at offset %d has length %d", ErrMalformedSystemUseEntry, offset, length)
		}

		entry := SystemUseEntry{
			Signature: SystemUseSignature{area[offset], area[offset+1]},
			Version:   area[offset+3],
			Data:      area[offset+SystemUseEntryHeaderSize : offset+length],
		}

		if entry.Signature == SignatureTerminator {
			break
		}

		entries = append(entries, entry)
		offset += length
	}

	return entries, nil
}

// ContinuationEntry is the payload of a CE entry, which points at a continuation area holding further entries
//
// IEEE P1281 (SUSP 1.12) §5.1
type ContinuationEntry struct {
	BlockLocation UInt32BothByte
	Offset        UInt32BothByte
	Length        UInt32BothByte
}

// ContinuationEntrySize is the encoded size of a CE entry, including its header
const ContinuationEntrySize = SystemUseEntryHeaderSize + 24

// SharingProtocolIndicator is the payload of the SP entry that must appear first in the '.' record of the root
// directory of a volume using the protocol.
//
// IEEE P1281 (SUSP 1.12) §5.3
type SharingProtocolIndicator struct {
	CheckBytes   [2]uint8
	BytesSkipped uint8
}

// SharingProtocolCheckBytes are the fixed check bytes of a [SharingProtocolIndicator]
var SharingProtocolCheckBytes = [2]uint8{0xBE, 0xEF}

// SharingProtocolIndicatorSize is the encoded size of an SP entry, including its header
const SharingProtocolIndicatorSize = SystemUseEntryHeaderSize + 3

// ExtensionsReference is the fixed part of the payload of an ER entry. It is followed by the identifier, descriptor
// and source strings.
//
// IEEE P1281 (SUSP 1.12) §5.5
type ExtensionsReference struct {
	IdentifierLength uint8
	DescriptorLength uint8
	SourceLength     uint8
	ExtensionVersion uint8
}

// NewExtensionsReferenceEntry creates an ER entry for an extension with the given identifier, descriptor and source
func NewExtensionsReferenceEntry(identifier, descriptor, source string, version uint8) (*SystemUseEntry, error) {
	if len(identifier) > 0xFF || len(descriptor) > 0xFF || len(source) > 0xFF {
		return nil, fmt.Errorf("%w: extension reference strings are too long", ErrMalformedSystemUseEntry)
	}

	entry, err := NewSystemUseEntry(SignatureExtensionsRef, &ExtensionsReference{
		IdentifierLength: uint8(len(identifier)),
		DescriptorLength: uint8(len(descriptor)),
		SourceLength:     uint8(len(source)),
		ExtensionVersion: version,
	})
	if err != nil {
		return nil, err
	}

	entry.Data = append(entry.Data, identifier...)
	entry.Data = append(entry.Data, descriptor...)
	entry.Data = append(entry.Data, source...)

	return entry, nil
}

// ExtensionIdentifier returns the identifier string of an ER entry
func (e *SystemUseEntry) ExtensionIdentifier() (string, error) {
	var ref ExtensionsReference
	if err := e.Unpack(&ref); err != nil {
		return "", err
	}

	end := 4 + int(ref.IdentifierLength)
	if end > len(e.Data) {
		return "", fmt.Errorf("%w: extension identifier overruns entry", ErrMalformedSystemUseEntry)
	}

	return string(e.Data[4:end]), nil
}
