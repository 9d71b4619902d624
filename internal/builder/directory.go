package builder

import (
	"bytes"
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/itchio/headway/counter"
	"io"
)

// DirectoryRecord builds the directory record for a record of a directory
func (p *Plan) DirectoryRecord(dir *Directory, record *Record) (*spec.DirectoryRecord, error) {
	node := p.tree.Node(record.Node)
	ns := p.tree.Node(dir.Node).Namespace
	location, length := p.Extent(record.Node, record.Part)

	// The placeholder of a relocated directory is recorded as a file that Rock Ridge links to the directory
	var flags spec.FileFlag
	if node.IsDir() && !record.ChildLink {
		flags |= spec.FileFlagDirectory
	}
	if record.Kind == rockridge.RecordEntry && node.Hidden {
		flags |= spec.FileFlagHidden
	}
	if record.Part < record.Parts-1 {
		flags |= spec.FileFlagMultiExtent
	}

	var systemUse bytes.Buffer
	if p.xaLength(ns) > 0 {
		if _, err := spec.NewXARecord(flags&spec.FileFlagDirectory != 0).WriteTo(&systemUse); err != nil {
			return nil, fmt.Errorf("could not encode XA record: %w", err)
		}
	}

	if record.rockRidge != nil {
		su, err := record.rockRidge.SystemUse(record.continuationBlock, record.continuationOffset, p.link(dir, record))
		if err != nil {
			return nil, fmt.Errorf("could not encode Rock Ridge entries for '%s': %w", p.tree.Path(record.Node), err)
		}
		systemUse.Write(su)
	}

	return &spec.DirectoryRecord{
		Header: spec.DirectoryRecordHeader{
			ExtentLocation:       encode.AsUInt32BothByte(location),
			DataLength:           encode.AsUInt32BothByte(length),
			RecordingDateAndTime: encode.AsDateTime(node.Recorded),
			FileFlags:            flags,
			VolumeSequenceNumber: encode.AsUInt16BothByte(p.config.sequenceNumber()),
		},
		FileIdentifier: record.Identifier,
		SystemUse:      systemUse.Bytes(),
	}, nil
}

// RootRecord builds the 34-byte root directory record stored in a volume descriptor
func (p *Plan) RootRecord(ns tree.Namespace) spec.DirectoryRecordHeader {
	root := p.tree.Root(ns)
	location, length := p.Extent(root, 0)

	return spec.DirectoryRecordHeader{
		Length:                 uint8(spec.DirectoryRecordLength(1, 0)),
		ExtentLocation:         encode.AsUInt32BothByte(location),
		DataLength:             encode.AsUInt32BothByte(length),
		RecordingDateAndTime:   encode.AsDateTime(p.tree.Node(root).Recorded),
		FileFlags:              spec.FileFlagDirectory,
		VolumeSequenceNumber:   encode.AsUInt16BothByte(p.config.sequenceNumber()),
		LengthOfFileIdentifier: 1,
	}
}

// WriteDirectory writes the extent of a directory. Records never straddle a sector boundary; the unused remainder of
// each sector is zero-filled.
func (p *Plan) WriteDirectory(w io.Writer, dir *Directory) (int64, error) {
	extent := make([]byte, dir.Size)

	for _, record := range dir.Records {
		dr, err := p.DirectoryRecord(dir, record)
		if err != nil {
			return 0, err
		}

		var buf bytes.Buffer
		if _, err := dr.WriteTo(&buf); err != nil {
			return 0, fmt.Errorf("could not encode directory record for '%s': %w", p.tree.Path(record.Node), err)
		}

		if buf.Len() != record.Length {
			return 0, fmt.Errorf("directory record for '%s' is %d bytes, planned %d", p.tree.Path(record.Node), buf.Len(), record.Length)
		}

		copy(extent[record.Offset:], buf.Bytes())
	}

	cw := counter.NewWriter(w)
	_, err := cw.Write(extent)

	return cw.Count(), err
}

// WriteDotContinuation writes the continuation block of a directory's '.' record
func (p *Plan) WriteDotContinuation(w io.Writer, dir *Directory) (int64, error) {
	area, err := dir.Records[0].rockRidge.Continuation(0)
	if err != nil {
		return 0, fmt.Errorf("could not encode continuation area for '%s': %w", p.tree.Path(dir.Node), err)
	}

	block := make([]byte, logicalBlockSize)
	copy(block, area)

	cw := counter.NewWriter(w)
	_, err = cw.Write(block)

	return cw.Count(), err
}

// WriteContinuations writes the blocks shared by the continuation areas of ordinary records
func (p *Plan) WriteContinuations(w io.Writer) (int64, error) {
	blocks := make([]byte, int(p.ContinuationBlocks)*logicalBlockSize)

	for _, dir := range p.Primary.Directories {
		for _, record := range dir.Records {
			if record.Kind == rockridge.RecordDot || !record.hasContinuation() {
				continue
			}

			area, err := record.rockRidge.Continuation(p.link(dir, record))
			if err != nil {
				return 0, fmt.Errorf("could not encode continuation area for '%s': %w", p.tree.Path(record.Node), err)
			}

			start := int(record.continuationBlock-p.ContinuationStart)*logicalBlockSize + int(record.continuationOffset)
			copy(blocks[start:], area)
		}
	}

	cw := counter.NewWriter(w)
	_, err := cw.Write(blocks)

	return cw.Count(), err
}
