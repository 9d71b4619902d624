package eltorito_test

import (
	"bytes"
	"github.com/davejbax/go-isofs/internal/eltorito"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func TestCatalog_Encode(t *testing.T) {
	catalog := &eltorito.Catalog{
		Entries: []eltorito.Entry{{Bootable: true}},
	}

	sector, err := catalog.Encode([]uint32{26})
	require.NoError(t, err, "Encode should succeed")
	require.Len(t, sector, spec.LogicalSectorSize, "The catalog should fill a sector")

	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, sector[:4], "Validation entry should have header ID 1 and platform 0")
	assert.Equal(t, make([]byte, 24), sector[4:28], "Validation entry ID string should be zeroes")
	assert.Equal(t, []byte{0xaa, 0x55}, sector[28:30], "Validation entry checksum should be 0x55aa")
	assert.Equal(t, []byte{0x55, 0xaa}, sector[30:32], "Validation entry should end with the key bytes")

	initial := sector[32:64]
	assert.EqualValues(t, 0x88, initial[0], "Initial entry should be bootable")
	assert.EqualValues(t, 0, initial[1], "Initial entry should use no emulation")
	assert.Equal(t, []byte{0, 0}, initial[2:4], "Load segment should be zero")
	assert.Equal(t, []byte{4, 0}, initial[6:8], "No emulation should load four sectors")
	assert.Equal(t, []byte{26, 0, 0, 0}, initial[8:12], "Load RBA should be the boot image extent")
	assert.Equal(t, make([]byte, spec.LogicalSectorSize-64), sector[64:], "The rest of the sector should be zeroes")
}

func TestCatalog_Sections(t *testing.T) {
	catalog := &eltorito.Catalog{
		Entries: []eltorito.Entry{
			{Bootable: true},
			{Bootable: true, Platform: eltorito.PlatformEFI},
			{Bootable: true, Media: eltorito.MediaHardDisk},
		},
	}

	sector, err := catalog.Encode([]uint32{26, 28, 29})
	require.NoError(t, err, "Encode should succeed")

	assert.EqualValues(t, 0x90, sector[64], "Every section header but the last should be 0x90")
	assert.EqualValues(t, eltorito.PlatformEFI, sector[65], "Section header should carry the entry's platform")
	assert.Equal(t, []byte{1, 0}, sector[66:68], "Each section should hold one entry")
	assert.EqualValues(t, 0x88, sector[96], "Section entry should be bootable")
	assert.EqualValues(t, 0x91, sector[128], "The last section header should be 0x91")
	assert.Equal(t, []byte{1, 0}, sector[166:168], "Hard disk emulation should load one sector")

	parsed, locations, err := eltorito.Parse(sector)
	require.NoError(t, err, "Parse should succeed")

	assert.Equal(t, []uint32{26, 28, 29}, locations, "Parse should return every boot image extent")
	require.Len(t, parsed.Entries, 3, "Parse should return every entry")
	assert.Equal(t, eltorito.PlatformEFI, parsed.Entries[1].Platform, "Parse should read the section platform")
	assert.Equal(t, eltorito.MediaHardDisk, parsed.Entries[2].Media, "Parse should read the media type")

	reencoded, err := parsed.Encode(locations)
	require.NoError(t, err, "Encoding a parsed catalog should succeed")
	assert.Equal(t, sector, reencoded, "A parsed catalog should re-encode identically")
}

func TestParse_Invalid(t *testing.T) {
	sector := make([]byte, spec.LogicalSectorSize)

	_, _, err := eltorito.Parse(sector)
	assert.ErrorIs(t, err, eltorito.ErrInvalidCatalog, "An empty sector is not a catalog")
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		media  eltorito.MediaType
		length int64
		valid  bool
	}{
		{eltorito.MediaNoEmulation, 5, true},
		{eltorito.MediaFloppy12, 1228800, true},
		{eltorito.MediaFloppy144, 1474560, true},
		{eltorito.MediaFloppy144, 1474561, false},
		{eltorito.MediaFloppy288, 2949120, true},
		{eltorito.MediaHardDisk, 512, true},
	}

	for _, test := range tests {
		err := test.media.ValidateSize(test.length)
		if test.valid {
			assert.NoError(t, err, "%s should accept %d bytes", test.media, test.length)
		} else {
			assert.ErrorIs(t, err, eltorito.ErrInvalidMediaSize, "%s should reject %d bytes", test.media, test.length)
		}
	}

	media, err := eltorito.ParseMediaType("floppy1.44")
	require.NoError(t, err, "ParseMediaType should accept a known name")
	assert.Equal(t, eltorito.MediaFloppy144, media, "ParseMediaType should return the named media type")

	_, err = eltorito.ParseMediaType("zip")
	assert.ErrorIs(t, err, eltorito.ErrInvalidMediaType, "ParseMediaType should reject an unknown name")
}

func TestChecksum(t *testing.T) {
	sum, err := eltorito.Checksum(strings.NewReader(strings.Repeat("boot", 20)))
	require.NoError(t, err, "Checksum should succeed")
	assert.Equal(t, uint32(0xd1bdbd88), sum, "Checksum should sum the words after byte 64, modulo 2^32")

	sum, err = eltorito.Checksum(strings.NewReader("boot\n"))
	require.NoError(t, err, "Checksum should succeed for a short file")
	assert.Zero(t, sum, "A file shorter than 64 bytes should have a zero checksum")

	sum, err = eltorito.Checksum(bytes.NewReader(append(make([]byte, 64), 1, 2, 3, 4, 5)))
	require.NoError(t, err, "Checksum should succeed")
	assert.Equal(t, uint32(0x04030201+0x05), sum, "A partial final word should be zero padded")
}

func TestPatch(t *testing.T) {
	sector := bytes.Repeat([]byte{0xff}, spec.LogicalSectorSize)

	require.NoError(t, eltorito.Patch(sector, eltorito.NewBootInfoTable(16, 26, 80, 0xd1bdbd88)), "Patch should succeed")

	assert.Equal(t, bytes.Repeat([]byte{0xff}, 8), sector[:8], "Patch should not touch the first 8 bytes")
	assert.Equal(t, []byte{16, 0, 0, 0, 26, 0, 0, 0, 80, 0, 0, 0, 0x88, 0xbd, 0xbd, 0xd1}, sector[8:24], "Patch should write the table in little-endian")
	assert.Equal(t, make([]byte, 40), sector[24:64], "The reserved bytes should be zeroed")
	assert.EqualValues(t, 0xff, sector[64], "Patch should not touch bytes after the table")

	table, ok := eltorito.ParseBootInfoTable(sector, 26)
	assert.True(t, ok, "ParseBootInfoTable should recognise a table for the image")
	assert.EqualValues(t, 80, table.BootFileLength, "ParseBootInfoTable should read the length")

	_, ok = eltorito.ParseBootInfoTable(sector, 27)
	assert.False(t, ok, "ParseBootInfoTable should reject a table describing another extent")
}

func TestParseBootInfoTable(t *testing.T) {
	sector := make([]byte, spec.LogicalSectorSize)
	copy(sector[8:], []byte{16, 0, 0, 0, 0x2c, 0x01, 0, 0, 0x00, 0x10, 0, 0, 0x78, 0x56, 0x34, 0x12})

	table, ok := eltorito.ParseBootInfoTable(sector, 300)
	require.True(t, ok, "ParseBootInfoTable should recognise a table for the image")
	assert.Equal(t, eltorito.NewBootInfoTable(16, 300, 4096, 0x12345678), table, "Every field should be read in little-endian")

	_, ok = eltorito.ParseBootInfoTable(sector[:63], 300)
	assert.False(t, ok, "A sector too short to hold a table should be rejected")

	sector[8] = 17
	_, ok = eltorito.ParseBootInfoTable(sector, 300)
	assert.False(t, ok, "A table pointing at another primary volume descriptor should be rejected")
}
