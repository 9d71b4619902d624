package spec

import "math/bits"

// UInt16BothByte is an unsigned 16-bit integer represented in both big endian and little endian, in a 32-bit
// integer container.
//
// The encoding is [ <little endian unsigned 16-bit integer>, <big endian unsigned 16-bit integer> ]
//
// UInt16BothByte can be encoded by the [struc] library.
//
// ECMA-119 (5th ed.) §7.2.3
type UInt16BothByte struct {
	Value uint32 `struc:"uint32,big"`
}

// RealValue returns the big endian half of the encoding
func (u UInt16BothByte) RealValue() uint16 {
	return uint16(u.Value & 0xFFFF)
}

// Valid reports whether both halves of the encoding agree
func (u UInt16BothByte) Valid() bool {
	return bits.ReverseBytes16(uint16(u.Value>>16)) == u.RealValue()
}

// UInt32BothByte is an unsigned 32-bit integer represented in both big endian and little endian, in a 64-bit
// integer container.
//
// The encoding is [ <little endian unsigned 32-bit integer>, <big endian unsigned 32-bit integer> ]
//
// UInt32BothByte can be encoded by the [struc] library.
//
// ECMA-119 (5th ed.) §7.3.3
type UInt32BothByte struct {
	Value uint64 `struc:"uint64,big"`
}

// RealValue returns the big endian half of the encoding
func (u UInt32BothByte) RealValue() uint32 {
	return uint32(u.Value & 0xFFFFFFFF)
}

// Valid reports whether both halves of the encoding agree
func (u UInt32BothByte) Valid() bool {
	return bits.ReverseBytes32(uint32(u.Value>>32)) == u.RealValue()
}
