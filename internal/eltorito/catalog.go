// Package eltorito builds and parses El Torito boot catalogs and boot info tables
package eltorito

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"strings"
)

// MediaType is the emulation mode of a boot image
type MediaType uint8

const (
	MediaNoEmulation MediaType = iota
	MediaFloppy12
	MediaFloppy144
	MediaFloppy288
	MediaHardDisk
)

// Platform identifiers recorded in validation entries and section headers
const (
	PlatformX86     uint8 = 0x00
	PlatformPowerPC uint8 = 0x01
	PlatformMac     uint8 = 0x02
	PlatformEFI     uint8 = 0xEF
)

var (
	ErrInvalidMediaType    = errors.New("invalid El Torito media type")
	ErrInvalidMediaSize    = errors.New("boot image size does not match its floppy emulation type")
	ErrNoEntries           = errors.New("boot catalog has no entries")
	ErrTooManyEntries      = errors.New("boot catalog entries do not fit in one sector")
	ErrInvalidCatalog      = errors.New("invalid boot catalog")
	ErrIDStringTooLong     = errors.New("boot catalog id string is too long")
	errLocationsMismatched = errors.New("number of boot image locations does not match number of entries")
)

var mediaTypeNames = map[MediaType]string{
	MediaNoEmulation: "noemul",
	MediaFloppy12:    "floppy1.2",
	MediaFloppy144:   "floppy1.44",
	MediaFloppy288:   "floppy2.88",
	MediaHardDisk:    "hdemul",
}

var floppySizes = map[MediaType]int64{
	MediaFloppy12:  1200 * 1024,
	MediaFloppy144: 1440 * 1024,
	MediaFloppy288: 2880 * 1024,
}

func (m MediaType) String() string {
	if name, ok := mediaTypeNames[m]; ok {
		return name
	}

	return fmt.Sprintf("MediaType(%d)", uint8(m))
}

// ParseMediaType parses the name of a media type, as printed by [MediaType.String]. The empty string means no
// emulation.
func ParseMediaType(name string) (MediaType, error) {
	if name == "" {
		return MediaNoEmulation, nil
	}

	for m, n := range mediaTypeNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}

	return 0, fmt.Errorf("%w: '%s'", ErrInvalidMediaType, name)
}

// DefaultSectorCount is the number of 512-byte virtual sectors loaded by the BIOS for a media type
func (m MediaType) DefaultSectorCount() uint16 {
	if m == MediaNoEmulation {
		return 4
	}

	return 1
}

// ValidateSize checks that a boot image is the right size for floppy emulation. Other media types accept any size.
func (m MediaType) ValidateSize(length int64) error {
	if m > MediaHardDisk {
		return fmt.Errorf("%w: %d", ErrInvalidMediaType, uint8(m))
	}

	if expected, ok := floppySizes[m]; ok && expected != length {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidMediaSize, m, expected, length)
	}

	return nil
}

// Entry is one boot image of a catalog
type Entry struct {
	Bootable    bool
	Media       MediaType
	Platform    uint8
	LoadSegment uint16
	SectorCount uint16
	SystemType  uint8

	// BootInfoTable requests that a boot info table is written into the first sector of the boot image. It is not
	// recorded in the catalog.
	BootInfoTable bool
}

// Catalog is an El Torito boot catalog. The first entry is the initial (default) entry; every further entry is
// recorded in a section of its own.
type Catalog struct {
	Platform uint8
	IDString string
	Entries  []Entry
}

// Encode encodes the catalog into a single sector, given the extent of the boot image of each entry
func (c *Catalog) Encode(locations []uint32) ([]byte, error) {
	if len(c.Entries) == 0 {
		return nil, ErrNoEntries
	}

	if len(locations) != len(c.Entries) {
		return nil, errLocationsMismatched
	}

	// Validation entry, initial entry, then a header and an entry for every section
	if 2+2*(len(c.Entries)-1) > spec.LogicalSectorSize/spec.BootCatalogEntrySize {
		return nil, fmt.Errorf("%w: %d entries", ErrTooManyEntries, len(c.Entries))
	}

	validation := &spec.ValidationEntry{
		HeaderID:   spec.ValidationEntryHeaderID,
		PlatformID: c.Platform,
		Key:        spec.ValidationEntryKey,
	}
	if len(c.IDString) > len(validation.IDString) {
		return nil, fmt.Errorf("%w: '%s'", ErrIDStringTooLong, c.IDString)
	}
	copy(validation.IDString[:], c.IDString)
	validation.ComputeChecksum()

	var buf bytes.Buffer
	if _, err := validation.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("could not encode validation entry: %w", err)
	}

	for i, entry := range c.Entries {
		if i > 0 {
			header := &spec.SectionHeader{
				HeaderIndicator: spec.SectionHeaderIndicator,
				PlatformID:      entry.Platform,
				NumberOfEntries: 1,
			}
			if i == len(c.Entries)-1 {
				header.HeaderIndicator = spec.SectionHeaderIndicatorEnd
			}

			if _, err := header.WriteTo(&buf); err != nil {
				return nil, fmt.Errorf("could not encode section header %d: %w", i, err)
			}
		}

		if _, err := entry.sectionEntry(locations[i]).WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("could not encode boot entry %d: %w", i, err)
		}
	}

	sector := make([]byte, spec.LogicalSectorSize)
	copy(sector, buf.Bytes())

	return sector, nil
}

func (e *Entry) sectionEntry(location uint32) *spec.SectionEntry {
	indicator := spec.BootIndicatorNotBootable
	if e.Bootable {
		indicator = spec.BootIndicatorBootable
	}

	sectorCount := e.SectorCount
	if sectorCount == 0 {
		sectorCount = e.Media.DefaultSectorCount()
	}

	return &spec.SectionEntry{
		BootIndicator: indicator,
		BootMediaType: uint8(e.Media),
		LoadSegment:   e.LoadSegment,
		SystemType:    e.SystemType,
		SectorCount:   sectorCount,
		LoadRBA:       location,
	}
}

// Parse decodes a boot catalog sector, returning the catalog and the extent of each entry's boot image
func Parse(sector []byte) (*Catalog, []uint32, error) {
	var validation spec.ValidationEntry
	if err := spec.UnpackCatalogEntry(sector, &validation); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	if !validation.Valid() {
		return nil, nil, fmt.Errorf("%w: bad validation entry", ErrInvalidCatalog)
	}

	catalog := &Catalog{
		Platform: validation.PlatformID,
		IDString: string(bytes.TrimRight(validation.IDString[:], "\x00")),
	}
	var locations []uint32

	offset := spec.BootCatalogEntrySize
	readEntry := func(platform uint8) error {
		var entry spec.SectionEntry
		if err := spec.UnpackCatalogEntry(sector[offset:], &entry); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
		offset += spec.BootCatalogEntrySize

		catalog.Entries = append(catalog.Entries, Entry{
			Bootable:    entry.BootIndicator == spec.BootIndicatorBootable,
			Media:       MediaType(entry.BootMediaType & 0x0F),
			Platform:    platform,
			LoadSegment: entry.LoadSegment,
			SectorCount: entry.SectorCount,
			SystemType:  entry.SystemType,
		})
		locations = append(locations, entry.LoadRBA)

		return nil
	}

	if err := readEntry(validation.PlatformID); err != nil {
		return nil, nil, err
	}

	for offset+spec.BootCatalogEntrySize <= len(sector) {
		var header spec.SectionHeader
		if err := spec.UnpackCatalogEntry(sector[offset:], &header); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}

		if header.HeaderIndicator != spec.SectionHeaderIndicator && header.HeaderIndicator != spec.SectionHeaderIndicatorEnd {
			break
		}
		offset += spec.BootCatalogEntrySize

		for range header.NumberOfEntries {
			if offset+spec.BootCatalogEntrySize > len(sector) {
				return nil, nil, fmt.Errorf("%w: section overruns the catalog", ErrInvalidCatalog)
			}

			if err := readEntry(header.PlatformID); err != nil {
				return nil, nil, err
			}
		}

		if header.HeaderIndicator == spec.SectionHeaderIndicatorEnd {
			break
		}
	}

	return catalog, locations, nil
}
