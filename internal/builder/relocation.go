package builder

import "github.com/davejbax/go-isofs/internal/encode"

// Allocator hands out runs of consecutive blocks, starting from a given block
type Allocator struct {
	next     uint32
	overflow bool
}

func NewAllocator(first uint32) *Allocator {
	return &Allocator{next: first}
}

// Allocate reserves enough blocks to hold size bytes and returns the first of them. A size of zero reserves nothing
// and returns the next free block.
func (a *Allocator) Allocate(size int64) uint32 {
	previous := a.next
	allocation := AllocateAndIncrementBlock(&a.next, size)
	if a.next < previous || size > int64(^uint32(0))*logicalBlockSize {
		a.overflow = true
	}

	return allocation
}

// Overflowed reports whether any allocation ran past the last addressable block
func (a *Allocator) Overflowed() bool {
	return a.overflow
}

// Next returns the next free block
func (a *Allocator) Next() uint32 {
	return a.next
}

func AllocateAndIncrementBlock(block *uint32, size int64) uint32 {
	allocation := *block
	*block += encode.SectorsFor(size)

	return allocation
}
