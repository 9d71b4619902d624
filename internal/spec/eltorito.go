package spec

import (
	"bytes"
	"fmt"
	"github.com/lunixbochs/struc"
	"io"
)

// ElToritoSystemIdentifier is the boot system identifier of an El Torito boot record, padded with NUL bytes
var ElToritoSystemIdentifier = [32]uint8{
	'E', 'L', ' ', 'T', 'O', 'R', 'I', 'T', 'O', ' ', 'S', 'P', 'E', 'C', 'I', 'F', 'I', 'C', 'A', 'T', 'I', 'O', 'N',
}

// BootRecordVolumeDescriptor is a volume descriptor that points at a boot catalog
//
// ECMA-119 (5th ed.) §9.2; El Torito 1.0 §2.0
type BootRecordVolumeDescriptor struct {
	Header               VolumeDescriptor
	BootSystemIdentifier [32]uint8
	BootIdentifier       [32]uint8
	BootCatalogLocation  uint32 `struc:"uint32,little"`
	BootSystemUse        [1973]uint8
}

func (b *BootRecordVolumeDescriptor) WriteTo(w io.Writer) (int64, error) {
	return pack(w, b)
}

// UnpackBootRecordVolumeDescriptor decodes a boot record from a sector
func UnpackBootRecordVolumeDescriptor(sector []byte) (*BootRecordVolumeDescriptor, error) {
	br := &BootRecordVolumeDescriptor{}
	if err := struc.Unpack(bytes.NewReader(sector), br); err != nil {
		return nil, fmt.Errorf("could not unpack boot record: %w", err)
	}

	return br, nil
}

// BootCatalogEntrySize is the size of every entry in a boot catalog
const BootCatalogEntrySize = 32

// Header identifiers used by catalog entries
const (
	ValidationEntryHeaderID   uint8 = 0x01
	SectionHeaderIndicator    uint8 = 0x90
	SectionHeaderIndicatorEnd uint8 = 0x91
)

// Boot indicators of initial and section entries
const (
	BootIndicatorBootable    uint8 = 0x88
	BootIndicatorNotBootable uint8 = 0x00
)

// ValidationEntryKey terminates the validation entry
var ValidationEntryKey = [2]uint8{0x55, 0xAA}

// ValidationEntry is the first entry in a boot catalog
//
// El Torito 1.0 §2.1
type ValidationEntry struct {
	HeaderID   uint8
	PlatformID uint8
	Reserved   uint16 `struc:"uint16,little"`
	IDString   [24]uint8
	Checksum   uint16 `struc:"uint16,little"`
	Key        [2]uint8
}

func (v *ValidationEntry) WriteTo(w io.Writer) (int64, error) {
	return pack(w, v)
}

// ComputeChecksum sets the checksum so that the little-endian 16-bit words of the entry sum to zero
func (v *ValidationEntry) ComputeChecksum() {
	v.Checksum = 0

	var buf bytes.Buffer
	_ = struc.Pack(&buf, v)

	var sum uint16
	data := buf.Bytes()
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint16(data[i]) | uint16(data[i+1])<<8
	}

	v.Checksum = -sum
}

// Valid reports whether the key bytes are present and the checksum is consistent
func (v *ValidationEntry) Valid() bool {
	if v.HeaderID != ValidationEntryHeaderID || v.Key != ValidationEntryKey {
		return false
	}

	check := *v
	check.ComputeChecksum()

	return check.Checksum == v.Checksum
}

// SectionEntry describes a single boot image. The initial (default) entry shares this layout, with the selection
// criteria left empty.
//
// El Torito 1.0 §2.2, §2.4
type SectionEntry struct {
	BootIndicator         uint8
	BootMediaType         uint8
	LoadSegment           uint16 `struc:"uint16,little"`
	SystemType            uint8
	Unused                uint8
	SectorCount           uint16 `struc:"uint16,little"`
	LoadRBA               uint32 `struc:"uint32,little"`
	SelectionCriteriaType uint8
	SelectionCriteria     [19]uint8
}

func (s *SectionEntry) WriteTo(w io.Writer) (int64, error) {
	return pack(w, s)
}

// SectionHeader precedes the entries of a section after the initial entry
//
// El Torito 1.0 §2.3
type SectionHeader struct {
	HeaderIndicator uint8
	PlatformID      uint8
	NumberOfEntries uint16 `struc:"uint16,little"`
	IDString        [28]uint8
}

func (s *SectionHeader) WriteTo(w io.Writer) (int64, error) {
	return pack(w, s)
}

// BootInfoTable is written at byte 8 of a boot image by tools such as mkisofs' -boot-info-table
type BootInfoTable struct {
	PrimaryVolumeDescriptor uint32 `struc:"uint32,little"`
	BootFileLocation        uint32 `struc:"uint32,little"`
	BootFileLength          uint32 `struc:"uint32,little"`
	Checksum                uint32 `struc:"uint32,little"`
	Reserved                [40]uint8
}

// Boot info tables occupy bytes 8 to 63 of the boot image
const (
	BootInfoTableOffset = 8
	BootInfoTableEnd    = 64
)

func (b *BootInfoTable) WriteTo(w io.Writer) (int64, error) {
	return pack(w, b)
}

// UnpackCatalogEntry decodes one 32-byte boot catalog entry into a struc-compatible structure
func UnpackCatalogEntry(entry []byte, v any) error {
	if len(entry) < BootCatalogEntrySize {
		return fmt.Errorf("boot catalog entry is %d bytes, expected %d", len(entry), BootCatalogEntrySize)
	}

	if err := struc.Unpack(bytes.NewReader(entry[:BootCatalogEntrySize]), v); err != nil {
		return fmt.Errorf("could not unpack boot catalog entry: %w", err)
	}

	return nil
}
