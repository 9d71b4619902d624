package spec

import (
	"bytes"
	"fmt"
	"github.com/itchio/headway/counter"
	"github.com/lunixbochs/struc"
	"io"
)

// LogicalSectorSize is the size of a sector, and hence of a logical block and an extent. It is set pretty much
// unanimously to 2048.
const LogicalSectorSize = 2048

// SystemAreaSectors is the number of sectors at the start of a volume that are reserved for system use
//
// ECMA-119 (5th ed.) §6.2.1
const SystemAreaSectors = 16

var (
	// StandardIdentifier represents the version of the ISO9660 standard used. Always 'CD001'
	//
	// ECMA-119 (5th ed.) §9.1.3
	StandardIdentifier = [5]uint8{0x43, 0x44, 0x30, 0x30, 0x31}
)

// VolumeDescriptorType identifies the type of volume descriptor in a contiguous array of volume descriptors ("volume
// descriptor set") -- each of which describe the actual volume (in simplified terms, the CD image as a whole).
// Note that types 4-254 are reserved.
//
// ECMA-119 (5th ed.) §9.1.2
type VolumeDescriptorType uint8

const (
	VolumeDescriptorTypeBootRecord    VolumeDescriptorType = 0
	VolumeDescriptorTypePrimary       VolumeDescriptorType = 1
	VolumeDescriptorTypeSupplementary VolumeDescriptorType = 2
	VolumeDescriptorTypePartition     VolumeDescriptorType = 3
	VolumeDescriptorTypeTerminator    VolumeDescriptorType = 255
)

// VolumeDescriptorVersion distinguishes supplementary volume descriptors (version 1) from enhanced volume
// descriptors (version 2). All other descriptors use version 1.
const (
	VolumeDescriptorVersionStandard uint8 = 1
	VolumeDescriptorVersionEnhanced uint8 = 2
)

// FileStructureVersion is a field in the [PrimaryVolumeDescriptor] which indicates the version of ECMA-119 for
// records in a directory and in a path table.
//
// ECMA-119 (5th ed.) §9.4.31
type FileStructureVersion uint8

const (
	FileStructureVersionPrimary       FileStructureVersion = 1
	FileStructureVersionSupplementary FileStructureVersion = 1
	FileStructureVersionEnhanced      FileStructureVersion = 2
)

// VolumeDescriptor is the base structure for volume descriptors. All volume descriptors start with this structure
// and follow with descriptor-specific data.
//
// Volume descriptors are structures that occur at successive blocks starting at block 16. This list of volume
// descriptors must be terminated by a [TerminatorVolumeDescriptor].
//
// ECMA-119 (5th ed.) §9
type VolumeDescriptor struct {
	Kind                    VolumeDescriptorType
	StandardIdentifier      [5]uint8
	VolumeDescriptorVersion uint8
}

// Valid reports whether the descriptor carries the standard identifier
func (v VolumeDescriptor) Valid() bool {
	return v.StandardIdentifier == StandardIdentifier
}

func (v *VolumeDescriptor) WriteTo(w io.Writer) (int64, error) {
	return pack(w, v)
}

// PrimaryVolumeDescriptor is a type of volume descriptor that contains metadata about the CD image, in addition to
// a pointer to the root directory and path tables -- either of which can be used to traverse the volume.
//
// Supplementary and enhanced volume descriptors share this layout: they use the VolumeFlags and EscapeSequences
// fields, which are unused (zero) in a primary volume descriptor, and record identifiers in the character set named
// by the escape sequences.
//
// ECMA-119 (5th ed.) §9.4, §9.5
type PrimaryVolumeDescriptor struct {
	Header                         VolumeDescriptor
	VolumeFlags                    uint8
	SystemIdentifier               [32]uint8
	VolumeIdentifier               [32]uint8
	Unused72                       [8]uint8
	VolumeSpaceSize                UInt32BothByte
	EscapeSequences                [32]uint8
	VolumeSetSize                  UInt16BothByte
	VolumeSequenceNumber           UInt16BothByte
	LogicalBlockSize               UInt16BothByte
	PathTableSize                  UInt32BothByte
	LocationTypeLPathTable         uint32 `struc:"uint32,little"`
	LocationTypeLOptionalPathTable uint32 `struc:"uint32,little"`
	LocationTypeMPathTable         uint32 `struc:"uint32,big"`
	LocationTypeMOptionalPathTable uint32 `struc:"uint32,big"`
	RootDirectoryRecord            DirectoryRecordHeader
	RootDirectoryIdentifier        uint8
	VolumeSetIdentifier            [128]uint8
	PublisherIdentifier            [128]uint8
	DataPreparerIdentifier         [128]uint8
	ApplicationIdentifier          [128]uint8
	CopyrightFileIdentifier        [37]uint8
	AbstractFileIdentifier         [37]uint8
	BibliographicFileIdentifier    [37]uint8
	VolumeCreationDateTime         LongDateTime
	VolumeModificationDateTime     LongDateTime
	VolumeExpirationDateTime       LongDateTime
	VolumeEffectiveDateTime        LongDateTime
	FileStructureVersion           FileStructureVersion
	Reserved882                    uint8
	ApplicationUse                 [512]uint8
	Reserved1395                   [653]uint8
}

// XASignatureOffset is the offset into [PrimaryVolumeDescriptor.ApplicationUse] of the 'CD-XA001' signature which
// marks a volume as using the extended architecture.
const XASignatureOffset = 141

// XASignature marks a volume as using the extended architecture
var XASignature = [8]uint8{'C', 'D', '-', 'X', 'A', '0', '0', '1'}

func (p *PrimaryVolumeDescriptor) WriteTo(w io.Writer) (int64, error) {
	return pack(w, p)
}

// UnpackPrimaryVolumeDescriptor decodes a primary, supplementary or enhanced volume descriptor from a sector
func UnpackPrimaryVolumeDescriptor(sector []byte) (*PrimaryVolumeDescriptor, error) {
	pvd := &PrimaryVolumeDescriptor{}
	if err := struc.Unpack(bytes.NewReader(sector), pvd); err != nil {
		return nil, fmt.Errorf("could not unpack volume descriptor: %w", err)
	}

	return pvd, nil
}

// TerminatorVolumeDescriptor is a volume descriptor with no payload that signals the end of the volume descriptor set.
//
// ECMA-119 (5th ed.) §9.3
var TerminatorVolumeDescriptor = &VolumeDescriptor{
	Kind:                    VolumeDescriptorTypeTerminator,
	StandardIdentifier:      StandardIdentifier,
	VolumeDescriptorVersion: VolumeDescriptorVersionStandard,
}

// UnpackVolumeDescriptorHeader decodes the common header of a volume descriptor sector
func UnpackVolumeDescriptorHeader(sector []byte) (*VolumeDescriptor, error) {
	header := &VolumeDescriptor{}
	if err := struc.Unpack(bytes.NewReader(sector), header); err != nil {
		return nil, fmt.Errorf("could not unpack volume descriptor header: %w", err)
	}

	return header, nil
}

// pack serializes a struc-compatible structure, counting the bytes written
func pack(w io.Writer, v any) (int64, error) {
	cw := counter.NewWriter(w)

	if err := struc.Pack(cw, v); err != nil {
		return cw.Count(), fmt.Errorf("could not pack structure: %w", err)
	}

	return cw.Count(), nil
}
