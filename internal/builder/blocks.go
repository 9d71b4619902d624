package builder

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/itchio/headway/counter"
	"io"
)

// Logical blocks are always the size of a logical sector. Smaller blocks are permitted by the standard, but nothing
// we read or write uses them.
const logicalBlockSize = spec.LogicalSectorSize

// BlockWriter writes an image block by block, in ascending order. Gaps between blocks are zero-filled and every
// write is padded to a whole number of blocks.
type BlockWriter struct {
	wrapped *counter.Writer

	currentBlock uint32
}

var errNonSequentialBlockWrite = errors.New("cannot write blocks in non-sequential order or rewrite existing blocks")

func NewBlockWriter(wrapped io.Writer) *BlockWriter {
	return &BlockWriter{wrapped: counter.NewWriter(wrapped)}
}

func (w *BlockWriter) WriteBlockFunc(number uint32, writeTo func(io.Writer) (int64, error)) error {
	if number < w.currentBlock {
		return fmt.Errorf("%w: block %d requested after block %d", errNonSequentialBlockWrite, number, w.currentBlock)
	}

	if err := w.PadTo(number); err != nil {
		return fmt.Errorf("failed to write padding prior to block: %w", err)
	}

	contentsSize, err := writeTo(w.wrapped)
	if err != nil {
		return fmt.Errorf("failed to write contents to block %d: %w", number, err)
	}

	contentsBlocks := (contentsSize + logicalBlockSize - 1) / logicalBlockSize

	if contentsBlocks*logicalBlockSize > contentsSize {
		// This is never more than a block in size
		padding := make([]byte, contentsBlocks*logicalBlockSize-contentsSize)
		if _, err := w.wrapped.Write(padding); err != nil {
			return fmt.Errorf("failed to write padding after contents: %w", err)
		}
	}

	w.currentBlock += uint32(contentsBlocks)

	return nil
}

func (w *BlockWriter) WriteBlock(number uint32, contents io.WriterTo) error {
	return w.WriteBlockFunc(number, contents.WriteTo)
}

// PadTo writes zero blocks until the next block to be written is the given block
func (w *BlockWriter) PadTo(number uint32) error {
	if number < w.currentBlock {
		return errNonSequentialBlockWrite
	}

	zeroBlock := make([]byte, logicalBlockSize)
	for number > w.currentBlock {
		if _, err := w.wrapped.Write(zeroBlock); err != nil {
			return err
		}

		w.currentBlock += 1
	}

	return nil
}

// CurrentBlock returns the number of the next block to be written
func (w *BlockWriter) CurrentBlock() uint32 {
	return w.currentBlock
}

func (w *BlockWriter) BytesWritten() int64 {
	return w.wrapped.Count()
}
