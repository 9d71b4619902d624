package spec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/itchio/headway/counter"
	"github.com/lunixbochs/struc"
	"io"
	"iter"
	"strconv"
	"strings"
)

// FileIdentifier is a 'file identifier', used in both files and directories. Note that ECMA-119 uses the term
// 'file name' to refer to the part of a file identifier that is distinct from the extension; a file identifier, in
// contrast, represents the combination of file name, extension, and version. For directories, directory name is
// equivalent to directory file identifier.
//
// A file identifier consists either of d-characters or 'd1-characters'. The latter is a variable encoding, dependent
// on the escape sequence given in the supplementary volume descriptor (UCS-2 for Joliet).
//
// ECMA-119 (5th ed.) §8.5
type FileIdentifier []uint8

var (
	// FileIdentifierSelf is the root file identifier, and also represents the '.' entry in a directory
	FileIdentifierSelf = FileIdentifier{0x00}

	// FileIdentifierParent represents the '..' (parent) entry in a directory
	FileIdentifierParent = FileIdentifier{0x01}
)

type FileFlag uint8

const (
	FileFlagHidden         FileFlag = 0x01
	FileFlagDirectory      FileFlag = 0x02
	FileFlagAssociatedFile FileFlag = 0x04
	FileFlagRecord         FileFlag = 0x08
	FileFlagProtection     FileFlag = 0x10
	FileFlagMultiExtent    FileFlag = 0x80
)

// Directory records are 33 bytes, not counting the identifier, padding and system use area
const BaseDirectoryRecordSize = 33

// MaxDirectoryRecordSize is the largest length that fits in the length field of a directory record
const MaxDirectoryRecordSize = 255

// MaxExtentLength is the largest data length a single directory record may describe while keeping its extent a whole
// number of sectors.
const MaxExtentLength = 0xFFFFFFFF / LogicalSectorSize * LogicalSectorSize

var (
	ErrRecordTooShort = errors.New("directory record is shorter than its length field claims")
	ErrRecordTooLong  = errors.New("directory record does not fit in 255 bytes")
)

// DirectoryRecordHeader is the fixed-size part of a [DirectoryRecord]
//
// ECMA-119 (5th ed.) §10.1
type DirectoryRecordHeader struct {
	Length                        uint8
	ExtendedAttributeRecordLength uint8
	ExtentLocation                UInt32BothByte
	DataLength                    UInt32BothByte
	RecordingDateAndTime          DateTime
	FileFlags                     FileFlag
	FileUnitSize                  uint8
	InterleaveGapSize             uint8
	VolumeSequenceNumber          UInt16BothByte
	LengthOfFileIdentifier        uint8
}

// DirectoryRecord specifies the file identifier, size, and location of a file or directory
//
// DirectoryRecord implements [io.WriterTo] for serialization. The Length and LengthOfFileIdentifier header fields are
// derived from the identifier and system use area when writing.
//
// ECMA-119 (5th ed.) §10.1
type DirectoryRecord struct {
	Header         DirectoryRecordHeader
	FileIdentifier FileIdentifier

	// SystemUse holds everything after the identifier padding: an XA record, if present, followed by System Use
	// Sharing Protocol entries.
	SystemUse []byte
}

// Ensure DirectoryRecord implements [io.WriterTo]
var _ io.WriterTo = &DirectoryRecord{}

func (d *DirectoryRecord) WriteTo(w io.Writer) (int64, error) {
	length := DirectoryRecordLength(len(d.FileIdentifier), len(d.SystemUse))
	if length > MaxDirectoryRecordSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrRecordTooLong, length)
	}

	header := d.Header
	header.Length = uint8(length)
	header.LengthOfFileIdentifier = uint8(len(d.FileIdentifier))

	cw := counter.NewWriter(w)
	if err := struc.Pack(cw, &header); err != nil {
		return cw.Count(), fmt.Errorf("failed to pack directory record: %w", err)
	}

	if _, err := cw.Write(d.FileIdentifier); err != nil {
		return cw.Count(), fmt.Errorf("failed to write file identifier: %w", err)
	}

	// When the name is an even number of bytes, the record would end up being an odd number of bytes. Hence, we pad
	// with an extra zero byte to avoid this.
	if len(d.FileIdentifier)%2 == 0 {
		if _, err := cw.Write([]byte{0}); err != nil {
			return cw.Count(), fmt.Errorf("failed to pad file identifier: %w", err)
		}
	}

	if _, err := cw.Write(d.SystemUse); err != nil {
		return cw.Count(), fmt.Errorf("failed to write system use area: %w", err)
	}

	if remainder := int64(length) - cw.Count(); remainder > 0 {
		if _, err := cw.Write(make([]byte, remainder)); err != nil {
			return cw.Count(), fmt.Errorf("failed to pad directory record: %w", err)
		}
	}

	return cw.Count(), nil
}

// Len returns the encoded length of the record
func (d *DirectoryRecord) Len() int {
	return DirectoryRecordLength(len(d.FileIdentifier), len(d.SystemUse))
}

// DirectoryRecordLength calculates the length of a [DirectoryRecord] given the length of its file identifier and of
// its system use area. Records always have an even length.
//
// ECMA-119 (5th ed.) §10.1
func DirectoryRecordLength(fileIdentifierLength int, systemUseLength int) int {
	length := BaseDirectoryRecordSize + fileIdentifierLength
	if fileIdentifierLength%2 == 0 {
		length++
	}

	length += systemUseLength
	if length%2 == 1 {
		length++
	}

	return length
}

// UnpackDirectoryRecord decodes a single directory record from the start of b. The returned record's SystemUse
// aliases b.
func UnpackDirectoryRecord(b []byte) (*DirectoryRecord, error) {
	if len(b) < BaseDirectoryRecordSize || int(b[0]) > len(b) || int(b[0]) < BaseDirectoryRecordSize {
		return nil, ErrRecordTooShort
	}

	record := &DirectoryRecord{}
	if err := struc.Unpack(bytes.NewReader(b[:BaseDirectoryRecordSize]), &record.Header); err != nil {
		return nil, fmt.Errorf("could not unpack directory record: %w", err)
	}

	length := int(record.Header.Length)
	identifierEnd := BaseDirectoryRecordSize + int(record.Header.LengthOfFileIdentifier)
	if identifierEnd > length {
		return nil, ErrRecordTooShort
	}

	record.FileIdentifier = FileIdentifier(b[BaseDirectoryRecordSize:identifierEnd])

	systemUseStart := identifierEnd
	if record.Header.LengthOfFileIdentifier%2 == 0 {
		systemUseStart++
	}

	if systemUseStart < length {
		record.SystemUse = b[systemUseStart:length]
	}

	return record, nil
}

// XARecord is the extended architecture record that follows the file identifier of every directory record on an XA
// volume.
type XARecord struct {
	GroupID    uint16 `struc:"uint16,big"`
	UserID     uint16 `struc:"uint16,big"`
	Attributes uint16 `struc:"uint16,big"`
	Signature  [2]uint8
	FileNumber uint8
	Reserved   [5]uint8
}

const XARecordSize = 14

const (
	XAAttributeModeTwoFormOne uint16 = 0x0800
	XAAttributeDirectory      uint16 = 0x8000

	// XAAttributeReadExecute grants read and execute permission to owner, group and world
	XAAttributeReadExecute uint16 = 0x0555
)

func (x *XARecord) WriteTo(w io.Writer) (int64, error) {
	return pack(w, x)
}

// NewXARecord creates the XA record used for files and directories
func NewXARecord(directory bool) *XARecord {
	attributes := XAAttributeReadExecute | XAAttributeModeTwoFormOne
	if directory {
		attributes |= XAAttributeDirectory
	}

	return &XARecord{Attributes: attributes, Signature: [2]uint8{'X', 'A'}}
}

// SplitFileIdentifier splits a file identifier into its file name, extension and version. Directory identifiers have
// neither extension nor version.
func SplitFileIdentifier(identifier string, directory bool) (name string, extension string, version string) {
	if directory {
		return identifier, "", ""
	}

	rest, version, _ := strings.Cut(identifier, ";")
	if index := strings.LastIndex(rest, "."); index != -1 {
		return rest[:index], rest[index+1:], version
	}

	return rest, "", version
}

// CompareFileIdentifiers compares two file identifiers within a directory. This results in an ordering consistent
// with ECMA-119's required 'order of directory records', which is (in descending order of significance):
//   - Ascending by file name, where the shorter name is padded with the filler byte
//   - Ascending by file extension, padded in the same way
//   - Descending by file version number
//
// Directory identifiers have no extension or version, and so compare on name alone. The identifiers are compared
// as Go strings; for Joliet identifiers this is equivalent to comparing UCS-2 code units, as UTF-8 preserves code
// point order.
//
// Returns a value < 0 if a should come before b, > 0 if b should come before a, and 0 otherwise.
//
// ECMA-119 (5th ed.) §10.3
func CompareFileIdentifiers(a string, aIsDir bool, b string, bIsDir bool) int {
	aName, aExtension, aVersion := SplitFileIdentifier(a, aIsDir)
	bName, bExtension, bVersion := SplitFileIdentifier(b, bIsDir)

	if cmp := comparePadded(aName, bName); cmp != 0 {
		return cmp
	}

	if cmp := comparePadded(aExtension, bExtension); cmp != 0 {
		return cmp
	}

	// Versions sort in descending order
	av, _ := strconv.Atoi(aVersion)
	bv, _ := strconv.Atoi(bVersion)
	if av != bv {
		if av > bv {
			return -1
		}
		return 1
	}

	// Directories come before files, if everything else is equal
	if aIsDir && !bIsDir {
		return -1
	} else if !aIsDir && bIsDir {
		return 1
	}

	return 0
}

func comparePadded(a, b string) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		ac, bc := byte(FillerByte), byte(FillerByte)
		if i < len(a) {
			ac = a[i]
		}
		if i < len(b) {
			bc = b[i]
		}

		if ac != bc {
			if ac < bc {
				return -1
			}
			return 1
		}
	}

	return 0
}

// PathTableRecord is a record in a path table, which indicates where to find a given directory on the disc by its
// extent number. This can be used by software to quickly find a given directory, rather than having to scan through
// the whole directory tree.
//
// A path table is simply a contiguous array of path table records.
//
// Note that this record is serializable with the [struc] library. Path tables can be either L-type (little endian) or
// M-type (big endian); this record type can be serialized to either, provided the correct arguments to [struc] are
// provided.
//
// ECMA-119 (5th ed.) §7.10
type PathTableRecord struct {
	LengthOfDirectoryIdentifier   uint8 `struc:"sizeof=DirectoryIdentifier"`
	ExtendedAttributeRecordLength uint8
	LocationOfExtent              uint32
	ParentDirectoryNumber         uint16
	DirectoryIdentifier           FileIdentifier
}

// Size returns the encoded size of the record, including padding
func (p *PathTableRecord) Size() int {
	size := 8 + len(p.DirectoryIdentifier)
	if len(p.DirectoryIdentifier)%2 == 1 {
		size++
	}

	return size
}

// An MPathTable is a path table (contiguous array of [PathTableRecord]-s) that gets serialized with big endian numbers
// ECMA-119 (5th ed.) §9.4.17
type MPathTable iter.Seq[*PathTableRecord]

func (p MPathTable) WriteTo(w io.Writer) (int64, error) {
	return writePathTable(w, iter.Seq[*PathTableRecord](p), true)
}

// An LPathTable is a path table (contiguous array of [PathTableRecord]-s) that gets serialized with little endian numbers
// ECMA-119 (5th ed.) §9.4.15
type LPathTable iter.Seq[*PathTableRecord]

func (p LPathTable) WriteTo(w io.Writer) (int64, error) {
	return writePathTable(w, iter.Seq[*PathTableRecord](p), false)
}

func writePathTable(w io.Writer, records iter.Seq[*PathTableRecord], bigEndian bool) (int64, error) {
	cw := counter.NewWriter(w)

	var byteOrder binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		byteOrder = binary.BigEndian
	}

	for record := range records {
		if err := struc.PackWithOptions(cw, record, &struc.Options{Order: byteOrder}); err != nil {
			return cw.Count(), fmt.Errorf("failed to encode path table record: %w", err)
		}

		// If the directory name has an odd length, ECMA-119 requires us to add a padding byte so that this path
		// table record consists of an even number of bytes.
		if record.LengthOfDirectoryIdentifier%2 == 1 {
			if _, err := cw.Write([]byte{0}); err != nil {
				return cw.Count(), fmt.Errorf("failed to write padding byte: %w", err)
			}
		}
	}

	return cw.Count(), nil
}

// UnpackPathTable decodes the records of a path table. Decoding stops at the end of the table, or at the first
// record with an empty directory identifier (some writers declare a table size larger than the table itself).
func UnpackPathTable(table []byte, bigEndian bool) ([]*PathTableRecord, error) {
	var byteOrder binary.ByteOrder = binary.LittleEndian
	if bigEndian {
		byteOrder = binary.BigEndian
	}

	var records []*PathTableRecord
	for offset := 0; offset+8 <= len(table); {
		if table[offset] == 0 {
			break
		}

		record := &PathTableRecord{}
		if err := struc.UnpackWithOptions(bytes.NewReader(table[offset:]), record, &struc.Options{Order: byteOrder}); err != nil {
			return nil, fmt.Errorf("could not unpack path table record at offset %d: %w", offset, err)
		}

		records = append(records, record)
		offset += record.Size()
	}

	return records, nil
}
