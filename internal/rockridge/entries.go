// Package rockridge builds and decodes the Rock Ridge Interchange Protocol entries recorded in the system use areas
// of directory records.
package rockridge

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/spec"
	"strings"
	"time"
)

// Version is a version of the Rock Ridge Interchange Protocol
type Version string

const (
	Version109 Version = "1.09"
	Version112 Version = "1.12"
)

var (
	ErrUnsupportedVersion = errors.New("unsupported Rock Ridge version")
	ErrInvalidName        = errors.New("Rock Ridge names must be 1 to 255 bytes long and not contain '/'")
	ErrInvalidTarget      = errors.New("invalid symbolic link target")
	ErrTooLarge           = errors.New("Rock Ridge entries do not fit in a continuation block")
)

// MaxNameLength is the longest alternate name that may be recorded
const MaxNameLength = 255

// Extension reference strings for each version
type extension struct {
	identifier string
	descriptor string
	source     string
}

var extensions = map[Version]extension{
	Version109: {
		identifier: "RRIP_1991A",
		descriptor: "THE ROCK RIDGE INTERCHANGE PROTOCOL PROVIDES SUPPORT FOR POSIX FILE SYSTEM SEMANTICS",
		source:     "PLEASE CONTACT DISC PUBLISHER FOR SPECIFICATION SOURCE.  SEE PUBLISHER IDENTIFIER IN PRIMARY VOLUME DESCRIPTOR FOR CONTACT INFORMATION.",
	},
	Version112: {
		identifier: "IEEE_P1282",
		descriptor: "THE IEEE P1282 PROTOCOL PROVIDES SUPPORT FOR POSIX FILE SYSTEM SEMANTICS.",
		source:     "PLEASE CONTACT THE IEEE STANDARDS DEPARTMENT, PISCATAWAY, NJ, USA FOR THE P1282 SPECIFICATION.",
	},
}

// ParseVersion validates a version string
func ParseVersion(v string) (Version, error) {
	switch Version(v) {
	case Version109, Version112:
		return Version(v), nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedVersion, v)
	}
}

// Identifier returns the extension identifier recorded in the ER entry for this version
func (v Version) Identifier() string {
	return extensions[v].identifier
}

// VersionFromIdentifier maps an ER extension identifier back to a version
func VersionFromIdentifier(identifier string) (Version, bool) {
	for v, ext := range extensions {
		if ext.identifier == identifier {
			return v, true
		}
	}

	// Some writers record the 1.12 identifier used by early drafts
	if identifier == "IEEE_1282" {
		return Version112, true
	}

	return "", false
}

// ValidateName checks an alternate name
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: '%s'", ErrInvalidName, name)
	}

	return nil
}

// Bits of the RR entry flags, one for each kind of entry recorded for a file
const (
	rrFlagPX uint8 = 0x01
	rrFlagPN uint8 = 0x02
	rrFlagSL uint8 = 0x04
	rrFlagNM uint8 = 0x08
	rrFlagCL uint8 = 0x10
	rrFlagPL uint8 = 0x20
	rrFlagRE uint8 = 0x40
	rrFlagTF uint8 = 0x80
)

// Flags of NM entries and SL components
const (
	nameFlagContinue uint8 = 0x01
	nameFlagCurrent  uint8 = 0x02
	nameFlagParent   uint8 = 0x04
	slFlagRoot       uint8 = 0x08
)

// Flags of TF entries
const (
	tfFlagCreation   uint8 = 0x01
	tfFlagModify     uint8 = 0x02
	tfFlagAccess     uint8 = 0x04
	tfFlagAttributes uint8 = 0x08
	tfFlagBackup     uint8 = 0x10
	tfFlagExpiration uint8 = 0x20
	tfFlagEffective  uint8 = 0x40
	tfFlagLongForm   uint8 = 0x80
)

// posixAttributes is the payload of a PX entry. Version 1.09 omits the serial number.
//
// RRIP 1.12 §4.1.1
type posixAttributes struct {
	Mode   spec.UInt32BothByte
	Links  spec.UInt32BothByte
	UID    spec.UInt32BothByte
	GID    spec.UInt32BothByte
	Serial spec.UInt32BothByte
}

// directoryLink is the payload of CL and PL entries: the location of the directory linked to
//
// RRIP 1.12 §4.1.5
type directoryLink struct {
	Location spec.UInt32BothByte
}

// Entry sizes, including the 4-byte header
const (
	rrEntrySize       = spec.SystemUseEntryHeaderSize + 1
	px109EntrySize    = spec.SystemUseEntryHeaderSize + 32
	px112EntrySize    = spec.SystemUseEntryHeaderSize + 40
	tfEntrySize       = spec.SystemUseEntryHeaderSize + 1 + 3*7
	nmEntryHeaderSize = spec.SystemUseEntryHeaderSize + 1
	linkEntrySize     = spec.SystemUseEntryHeaderSize + 8
	maxEntryPayload   = 0xFF - spec.SystemUseEntryHeaderSize
)

func newRREntry(flags uint8) *spec.SystemUseEntry {
	return &spec.SystemUseEntry{Signature: spec.SignatureRockRidge, Version: 1, Data: []byte{flags}}
}

func newPXEntry(v Version, mode, links, uid, gid, serial uint32) (*spec.SystemUseEntry, error) {
	entry, err := spec.NewSystemUseEntry(spec.SignaturePosixAttributes, &posixAttributes{
		Mode:   encode.AsUInt32BothByte(mode),
		Links:  encode.AsUInt32BothByte(links),
		UID:    encode.AsUInt32BothByte(uid),
		GID:    encode.AsUInt32BothByte(gid),
		Serial: encode.AsUInt32BothByte(serial),
	})
	if err != nil {
		return nil, err
	}

	if v == Version109 {
		entry.Data = entry.Data[:px109EntrySize-spec.SystemUseEntryHeaderSize]
	}

	return entry, nil
}

func newLinkEntry(signature spec.SystemUseSignature, location uint32) (*spec.SystemUseEntry, error) {
	return spec.NewSystemUseEntry(signature, &directoryLink{Location: encode.AsUInt32BothByte(location)})
}

// newTFEntry records modification, access and attribute change times in the short form
func newTFEntry(modified, accessed, changed time.Time) (*spec.SystemUseEntry, error) {
	data := []byte{tfFlagModify | tfFlagAccess | tfFlagAttributes}
	for _, t := range []time.Time{modified, accessed, changed} {
		dt := encode.AsDateTime(t)
		data = append(data,
			dt.YearsSince1900, dt.Month, dt.Day, dt.Hour, dt.Minute, dt.Second, uint8(dt.GMTOffsetIn15MinIntervals))
	}

	return &spec.SystemUseEntry{Signature: spec.SignatureTimestamps, Version: 1, Data: data}, nil
}

// newNMEntries splits an alternate name into NM entries. The first entry holds at most firstLimit bytes of the name.
func newNMEntries(name string, firstLimit int) []*spec.SystemUseEntry {
	var entries []*spec.SystemUseEntry

	limit := firstLimit
	if limit < 1 {
		limit = maxEntryPayload - 1
	}

	for len(name) > 0 {
		chunk := name
		if len(chunk) > limit {
			chunk = chunk[:limit]
		}
		name = name[len(chunk):]

		flags := uint8(0)
		if len(name) > 0 {
			flags = nameFlagContinue
		}

		entries = append(entries, &spec.SystemUseEntry{
			Signature: spec.SignatureAlternateName,
			Version:   1,
			Data:      append([]byte{flags}, chunk...),
		})

		limit = maxEntryPayload - 1
	}

	return entries
}

type slComponent struct {
	flags   uint8
	content string
}

// splitTarget converts a symbolic link target into SL components
func splitTarget(target string) ([]slComponent, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	var components []slComponent
	if strings.HasPrefix(target, "/") {
		components = append(components, slComponent{flags: slFlagRoot})
		target = strings.TrimLeft(target, "/")
	}

	if target == "" {
		return components, nil
	}

	for _, part := range strings.Split(target, "/") {
		switch part {
		case "":
			return nil, fmt.Errorf("%w: '%s' has an empty component", ErrInvalidTarget, target)
		case ".":
			components = append(components, slComponent{flags: nameFlagCurrent})
		case "..":
			components = append(components, slComponent{flags: nameFlagParent})
		default:
			// Component contents are limited to 255 bytes; longer components are continued in the next component
			for len(part) > 0 {
				chunk := part
				if len(chunk) > maxEntryPayload-3 {
					chunk = chunk[:maxEntryPayload-3]
				}
				part = part[len(chunk):]

				flags := uint8(0)
				if len(part) > 0 {
					flags = nameFlagContinue
				}
				components = append(components, slComponent{flags: flags, content: chunk})
			}
		}
	}

	return components, nil
}

// newSLEntries packs the components of a symbolic link target into as few SL entries as possible
func newSLEntries(target string) ([]*spec.SystemUseEntry, error) {
	components, err := splitTarget(target)
	if err != nil {
		return nil, err
	}

	var entries []*spec.SystemUseEntry
	current := &spec.SystemUseEntry{Signature: spec.SignatureSymbolicLink, Version: 1, Data: []byte{0}}

	for _, c := range components {
		encoded := append([]byte{c.flags, uint8(len(c.content))}, c.content...)
		if len(current.Data)+len(encoded) > maxEntryPayload {
			current.Data[0] = nameFlagContinue
			entries = append(entries, current)
			current = &spec.SystemUseEntry{Signature: spec.SignatureSymbolicLink, Version: 1, Data: []byte{0}}
		}

		current.Data = append(current.Data, encoded...)
	}

	return append(entries, current), nil
}

// newExtensionsReference creates the ER entry for a version
func newExtensionsReference(v Version) (*spec.SystemUseEntry, error) {
	ext, ok := extensions[v]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedVersion, v)
	}

	return spec.NewExtensionsReferenceEntry(ext.identifier, ext.descriptor, ext.source, 1)
}
