package spec

import "bytes"

// FillerByte is the character to be used as 'filler' in a-characters, d-characters, etc. This is only defined by the
// spec for PVDs and SVDs; an enhanced volume descriptor leaves the definition of 'filler' up to whoever.
//
// ECMA-119 (5th ed.) §8.4.3.2
const FillerByte = 0x20

// TrimFiller returns the contents of a fixed-width a- or d-character identifier field without trailing filler or NUL
// bytes.
func TrimFiller(field []uint8) []uint8 {
	return bytes.TrimRight(field, "\x20\x00")
}
