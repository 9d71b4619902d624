package rockridge_test

import (
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

const maxEvenRecordLength = 254

func available(identifierLength int) int {
	return maxEvenRecordLength - spec.DirectoryRecordLength(identifierLength, 0)
}

func TestBuild_RecordLengths(t *testing.T) {
	now := time.Date(2024, 2, 29, 23, 59, 58, 0, time.UTC)

	tests := []struct {
		name       string
		version    rockridge.Version
		identifier string
		attributes rockridge.Attributes
		expected   int
	}{
		{
			name:       "root dot 1.09",
			version:    rockridge.Version109,
			identifier: "\x00",
			attributes: rockridge.Attributes{Kind: rockridge.RecordDot, RootDot: true, Mode: 0o040555, Links: 2},
			expected:   136,
		},
		{
			name:       "root dot 1.12",
			version:    rockridge.Version112,
			identifier: "\x00",
			attributes: rockridge.Attributes{Kind: rockridge.RecordDot, RootDot: true, Mode: 0o040555, Links: 2},
			expected:   140,
		},
		{
			name:       "dotdot",
			version:    rockridge.Version109,
			identifier: "\x01",
			attributes: rockridge.Attributes{Kind: rockridge.RecordDotDot, Mode: 0o040555, Links: 3},
			expected:   102,
		},
		{
			name:       "file",
			version:    rockridge.Version109,
			identifier: "FOO.;1",
			attributes: rockridge.Attributes{Name: "foo", Mode: 0o100444, Links: 1},
			expected:   116,
		},
		{
			name:       "directory",
			version:    rockridge.Version109,
			identifier: "DIR1",
			attributes: rockridge.Attributes{Name: "dir1", Mode: 0o040555, Links: 2},
			expected:   114,
		},
		{
			name:       "symlink",
			version:    rockridge.Version109,
			identifier: "SYM.;1",
			attributes: rockridge.Attributes{Name: "sym", Target: "foo", Mode: 0o120555, Links: 1},
			expected:   126,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			a := test.attributes
			a.Modified, a.Accessed, a.Changed = now, now, now

			layout, err := rockridge.Build(test.version, &a, 0, available(len(test.identifier)))
			require.NoError(t, err, "Build should succeed")

			assert.Equal(t, test.expected, spec.DirectoryRecordLength(len(test.identifier), layout.Len()), "Directory record should have the expected length")
		})
	}
}

func TestBuild_XARootDot(t *testing.T) {
	a := &rockridge.Attributes{Kind: rockridge.RecordDot, RootDot: true, Mode: 0o040555, Links: 2}

	layout, err := rockridge.Build(rockridge.Version109, a, spec.XARecordSize, available(1)-spec.XARecordSize)
	require.NoError(t, err, "Build should succeed")
	assert.Equal(t, 150, spec.DirectoryRecordLength(1, layout.Len()+spec.XARecordSize), "An XA record should add 14 bytes to the root dot record")

	su, err := layout.SystemUse(24, 0, 0)
	require.NoError(t, err, "SystemUse should succeed")

	parsed, err := rockridge.Parse(su, nil)
	require.NoError(t, err, "Parse should succeed")
	assert.True(t, parsed.HasSharingProtocol, "The root dot record should carry an SP entry")
	assert.EqualValues(t, spec.XARecordSize, parsed.BytesSkipped, "SP should skip the XA record")
}

func TestBuild_LongName(t *testing.T) {
	name := strings.Repeat("a", rockridge.MaxNameLength)
	a := &rockridge.Attributes{Name: name, Mode: 0o100444, Links: 1}

	layout, err := rockridge.Build(rockridge.Version109, a, 0, available(len("AAAAAAAA.;1")))
	require.NoError(t, err, "Build should succeed for the longest name")

	assert.Equal(t, maxEvenRecordLength, spec.DirectoryRecordLength(len("AAAAAAAA.;1"), layout.Len()), "The record should be filled up to the maximum length")
	assert.Positive(t, layout.ContinuationLen(), "The name should overflow into a continuation area")

	su, err := layout.SystemUse(30, 100, 0)
	require.NoError(t, err, "SystemUse should succeed")

	continuation, err := layout.Continuation(0)
	require.NoError(t, err, "Continuation should succeed")
	assert.Len(t, continuation, layout.ContinuationLen(), "Continuation should encode ContinuationLen bytes")

	var requested [3]uint32
	parsed, err := rockridge.Parse(su, func(block, offset, length uint32) ([]byte, error) {
		requested = [3]uint32{block, offset, length}
		return continuation, nil
	})
	require.NoError(t, err, "Parse should follow the continuation entry")

	assert.Equal(t, [3]uint32{30, 100, uint32(len(continuation))}, requested, "The CE entry should point at the given block and offset")
	assert.Equal(t, name, parsed.Name, "The name should be reassembled from both areas")
	assert.EqualValues(t, 0o100444, parsed.Mode, "PX should be read from the continuation area")

	version, ok := parsed.Version()
	assert.True(t, ok, "The version should be detected")
	assert.Equal(t, rockridge.Version109, version, "An RR entry implies version 1.09")
}

func TestBuild_InvalidName(t *testing.T) {
	for _, name := range []string{"a/b", strings.Repeat("a", 256)} {
		_, err := rockridge.Build(rockridge.Version109, &rockridge.Attributes{Name: name}, 0, 200)
		assert.ErrorIs(t, err, rockridge.ErrInvalidName, "Build should reject the name %q", name)
	}

	_, err := rockridge.Build("1.10", &rockridge.Attributes{Name: "a"}, 0, 200)
	assert.ErrorIs(t, err, rockridge.ErrUnsupportedVersion, "Build should reject unknown versions")
}

func TestParse_RoundTrip(t *testing.T) {
	modified := time.Date(2023, 6, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		version    rockridge.Version
		attributes rockridge.Attributes
	}{
		{"relative symlink", rockridge.Version109, rockridge.Attributes{Name: "sym", Target: "../dir1/./foo", Mode: 0o120555, Links: 1}},
		{"absolute symlink", rockridge.Version112, rockridge.Attributes{Name: "abs", Target: "/usr/bin/env", Mode: 0o120555, Links: 1, Serial: 7}},
		{"root symlink", rockridge.Version112, rockridge.Attributes{Name: "root", Target: "/", Mode: 0o120555, Links: 1}},
		{"long target", rockridge.Version109, rockridge.Attributes{Name: "long", Target: strings.Repeat("b", 300) + "/c", Mode: 0o120555, Links: 1}},
		{"file", rockridge.Version112, rockridge.Attributes{Name: "file.txt", Mode: 0o100644, Links: 2, UID: 1000, GID: 100, Serial: 42}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			a := test.attributes
			a.Modified, a.Accessed, a.Changed = modified, modified, modified

			layout, err := rockridge.Build(test.version, &a, 0, available(12))
			require.NoError(t, err, "Build should succeed")

			su, err := layout.SystemUse(1, 0, 0)
			require.NoError(t, err, "SystemUse should succeed")
			continuation, err := layout.Continuation(0)
			require.NoError(t, err, "Continuation should succeed")

			parsed, err := rockridge.Parse(su, func(uint32, uint32, uint32) ([]byte, error) { return continuation, nil })
			require.NoError(t, err, "Parse should succeed")

			assert.Equal(t, a.Name, parsed.Name, "Name should round-trip")
			assert.Equal(t, a.Target, parsed.Target, "Target should round-trip")
			assert.Equal(t, a.Mode, parsed.Mode, "Mode should round-trip")
			assert.Equal(t, a.Links, parsed.Links, "Links should round-trip")
			assert.Equal(t, a.UID, parsed.UID, "UID should round-trip")
			assert.Equal(t, a.GID, parsed.GID, "GID should round-trip")
			assert.True(t, modified.Equal(parsed.Modified), "Modification time should round-trip")

			if test.version == rockridge.Version112 {
				assert.Equal(t, a.Serial, parsed.Serial, "Version 1.12 should record the serial number")
				version, _ := parsed.Version()
				assert.Equal(t, rockridge.Version112, version, "A long PX entry implies version 1.12")
			}
		})
	}
}

func TestParse_ContinuationLoop(t *testing.T) {
	a := &rockridge.Attributes{Kind: rockridge.RecordDot, RootDot: true, Mode: 0o040555, Links: 2}
	layout, err := rockridge.Build(rockridge.Version109, a, 0, available(1))
	require.NoError(t, err, "Build should succeed")

	su, err := layout.SystemUse(5, 0, 0)
	require.NoError(t, err, "SystemUse should succeed")

	// A continuation area pointing back at a record that points at it again must not be followed forever
	_, err = rockridge.Parse(su, func(uint32, uint32, uint32) ([]byte, error) { return su, nil })
	assert.ErrorIs(t, err, rockridge.ErrTooManyContinuations, "Parse should give up on cyclic continuation areas")
}

func TestParse_Extensions(t *testing.T) {
	for _, version := range []rockridge.Version{rockridge.Version109, rockridge.Version112} {
		a := &rockridge.Attributes{Kind: rockridge.RecordDot, RootDot: true, Mode: 0o040555, Links: 2}
		layout, err := rockridge.Build(version, a, 0, available(1))
		require.NoError(t, err, "Build should succeed")

		su, err := layout.SystemUse(5, 0, 0)
		require.NoError(t, err, "SystemUse should succeed")
		continuation, err := layout.Continuation(0)
		require.NoError(t, err, "Continuation should succeed")

		parsed, err := rockridge.Parse(su, func(uint32, uint32, uint32) ([]byte, error) { return continuation, nil })
		require.NoError(t, err, "Parse should succeed")

		assert.Equal(t, []string{version.Identifier()}, parsed.Extensions, "The root dot record should reference the extension")
		detected, ok := parsed.Version()
		assert.True(t, ok, "The version should be detected")
		assert.Equal(t, version, detected, "The version should be detected from the ER entry")
	}
}

func TestBuild_ContinuationEntryIsReserved(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		attributes rockridge.Attributes
	}{
		{name: "root dot", identifier: "\x00", attributes: rockridge.Attributes{Kind: rockridge.RecordDot, RootDot: true, Mode: 0o040555, Links: 2}},
		{name: "long name", identifier: "LONG.;1", attributes: rockridge.Attributes{Name: strings.Repeat("a", 250), Mode: 0o100444, Links: 1}},
		{name: "long target", identifier: "SYM.;1", attributes: rockridge.Attributes{Name: "sym", Target: strings.Repeat("b/", 100) + "c", Mode: 0o120555, Links: 1}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			for _, version := range []rockridge.Version{rockridge.Version109, rockridge.Version112} {
				a := test.attributes
				layout, err := rockridge.Build(version, &a, 0, available(len(test.identifier)))
				require.NoError(t, err, "Build should succeed")
				require.Positive(t, layout.ContinuationLen(), "The entries should need a continuation area")

				su, err := layout.SystemUse(1000, 2000, 0)
				require.NoError(t, err, "SystemUse should succeed")
				assert.Len(t, su, layout.Len(), "The planned length should include the whole CE entry")
				assert.LessOrEqual(t, layout.Len(), available(len(test.identifier)), "The entries should fit in the record")
			}
		})
	}
}

func TestBuild_DirectoryLinks(t *testing.T) {
	now := time.Date(2024, 2, 29, 23, 59, 58, 0, time.UTC)

	tests := []struct {
		name       string
		identifier string
		attributes rockridge.Attributes
		length     int
		link       uint32
	}{
		{
			name:       "child link",
			identifier: "DIR8",
			attributes: rockridge.Attributes{Name: "dir8", Mode: 0o040555, Links: 2, ChildLink: true},
			length:     126,
			link:       33,
		},
		{
			name:       "parent link",
			identifier: "\x01",
			attributes: rockridge.Attributes{Kind: rockridge.RecordDotDot, Mode: 0o040555, Links: 3, ParentLink: true},
			length:     114,
			link:       31,
		},
		{
			name:       "relocated",
			identifier: "DIR8",
			attributes: rockridge.Attributes{Name: "dir8", Mode: 0o040555, Links: 2, Relocated: true},
			length:     118,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			a := test.attributes
			a.Modified, a.Accessed, a.Changed = now, now, now

			layout, err := rockridge.Build(rockridge.Version109, &a, 0, available(len(test.identifier)))
			require.NoError(t, err, "Build should succeed")
			assert.Equal(t, test.length, spec.DirectoryRecordLength(len(test.identifier), layout.Len()), "Directory record should have the expected length")

			su, err := layout.SystemUse(0, 0, test.link)
			require.NoError(t, err, "SystemUse should succeed")
			assert.Len(t, su, layout.Len(), "The link entry should keep its planned length")

			parsed, err := rockridge.Parse(su, nil)
			require.NoError(t, err, "Parse should succeed")
			assert.Equal(t, a.ChildLink, parsed.ChildLink, "CL should round-trip")
			assert.Equal(t, a.ParentLink, parsed.ParentLink, "PL should round-trip")
			assert.Equal(t, a.Relocated, parsed.Relocated, "RE should round-trip")
			assert.Equal(t, test.link, parsed.Link, "The linked location should round-trip")
		})
	}
}

func TestBuild_DirectoryLinkInContinuation(t *testing.T) {
	a := &rockridge.Attributes{Name: strings.Repeat("d", 200), Mode: 0o040555, Links: 2, ChildLink: true}

	layout, err := rockridge.Build(rockridge.Version112, a, 0, available(len("DDDDDDDD")))
	require.NoError(t, err, "Build should succeed")
	require.Positive(t, layout.ContinuationLen(), "The entries should need a continuation area")

	su, err := layout.SystemUse(40, 0, 77)
	require.NoError(t, err, "SystemUse should succeed")
	continuation, err := layout.Continuation(77)
	require.NoError(t, err, "Continuation should succeed")
	assert.Len(t, continuation, layout.ContinuationLen(), "The link entry should keep its planned length in the continuation area")

	parsed, err := rockridge.Parse(su, func(uint32, uint32, uint32) ([]byte, error) { return continuation, nil })
	require.NoError(t, err, "Parse should succeed")
	assert.True(t, parsed.ChildLink, "CL should be read from the continuation area")
	assert.EqualValues(t, 77, parsed.Link, "The linked location should be read from the continuation area")
	assert.Equal(t, a.Name, parsed.Name, "The name should be reassembled")
}
