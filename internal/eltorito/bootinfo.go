package eltorito

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/lunixbochs/struc"
	"io"
)

// Checksum computes the boot info table checksum of a boot image: the sum of its little-endian 32-bit words from byte
// 64 onwards, with the final word zero padded
func Checksum(r io.Reader) (uint32, error) {
	if _, err := io.CopyN(io.Discard, r, spec.BootInfoTableEnd); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}

		return 0, fmt.Errorf("could not skip boot image header: %w", err)
	}

	var sum uint32
	word := make([]byte, 4)
	for {
		clear(word)

		n, err := io.ReadFull(r, word)
		if n > 0 {
			sum += binary.LittleEndian.Uint32(word)
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return sum, nil
		} else if err != nil {
			return 0, fmt.Errorf("could not read boot image: %w", err)
		}
	}
}

// NewBootInfoTable creates the boot info table for a boot image
func NewBootInfoTable(pvdExtent, fileExtent uint32, length int64, checksum uint32) *spec.BootInfoTable {
	return &spec.BootInfoTable{
		PrimaryVolumeDescriptor: pvdExtent,
		BootFileLocation:        fileExtent,
		BootFileLength:          uint32(length),
		Checksum:                checksum,
	}
}

// Patch overwrites bytes 8 to 63 of the first sector of a boot image with a boot info table
func Patch(sector []byte, table *spec.BootInfoTable) error {
	if len(sector) < spec.BootInfoTableEnd {
		return fmt.Errorf("boot image sector is %d bytes, need at least %d", len(sector), spec.BootInfoTableEnd)
	}

	var buf bytes.Buffer
	if _, err := table.WriteTo(&buf); err != nil {
		return fmt.Errorf("could not encode boot info table: %w", err)
	}

	copy(sector[spec.BootInfoTableOffset:spec.BootInfoTableEnd], buf.Bytes())

	return nil
}

// ParseBootInfoTable decodes the boot info table of a boot image's first sector. ok is false when the table does not
// describe the image at fileExtent, which means the image carries no table.
func ParseBootInfoTable(sector []byte, fileExtent uint32) (table *spec.BootInfoTable, ok bool) {
	if len(sector) < spec.BootInfoTableEnd {
		return nil, false
	}

	table = &spec.BootInfoTable{}
	if err := struc.Unpack(bytes.NewReader(sector[spec.BootInfoTableOffset:spec.BootInfoTableEnd]), table); err != nil {
		return nil, false
	}

	return table, table.BootFileLocation == fileExtent && table.PrimaryVolumeDescriptor == spec.SystemAreaSectors
}
