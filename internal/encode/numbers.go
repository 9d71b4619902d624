package encode

import (
	"github.com/davejbax/go-isofs/internal/spec"
	"math/bits"
)

// AsUInt16BothByte creates a [spec.UInt16BothByte] from an unsigned 16-bit integer. The both-byte representation of
// MS LS is LS MS MS LS.
func AsUInt16BothByte(value uint16) spec.UInt16BothByte {
	return spec.UInt16BothByte{
		Value: uint32(bits.ReverseBytes16(value))<<16 | uint32(value),
	}
}

// AsUInt32BothByte creates a [spec.UInt32BothByte] from an unsigned 32-bit integer. The both-byte representation of
// ST UV WX YZ is YZ WX UV ST ST UV WX YZ.
func AsUInt32BothByte(value uint32) spec.UInt32BothByte {
	return spec.UInt32BothByte{
		Value: uint64(bits.ReverseBytes32(value))<<32 | uint64(value),
	}
}

// SectorsFor returns the number of whole logical sectors needed to hold length bytes
func SectorsFor(length int64) uint32 {
	return uint32((length + spec.LogicalSectorSize - 1) / spec.LogicalSectorSize)
}
