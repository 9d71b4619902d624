package rockridge

import (
	"bytes"
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/spec"
	"slices"
	"time"
)

// RecordKind distinguishes ordinary directory records from the '.' and '..' records of a directory
type RecordKind int

const (
	RecordEntry RecordKind = iota
	RecordDot
	RecordDotDot
)

// Attributes are the POSIX attributes of a single directory record
type Attributes struct {
	Kind RecordKind

	// RootDot marks the '.' record of the root directory, which carries the SP entry and the extension reference
	RootDot bool

	// Name is the alternate name, recorded for ordinary entries only
	Name string

	// Target is the symbolic link target, recorded for symbolic links only
	Target string

	Mode   uint32
	Links  uint32
	UID    uint32
	GID    uint32
	Serial uint32

	Modified time.Time
	Accessed time.Time
	Changed  time.Time

	// ChildLink marks the record left in place of a relocated directory, and ParentLink the '..' record of a relocated
	// directory. The directory they link to is given when the entries are encoded.
	ChildLink  bool
	ParentLink bool

	// Relocated marks the record of a directory that was moved into the relocation directory
	Relocated bool
}

// Layout is the arrangement of the Rock Ridge entries of one directory record: the entries that live in the record
// itself, and the entries that overflow into a continuation area.
type Layout struct {
	inRecord     []*spec.SystemUseEntry
	continuation []*spec.SystemUseEntry

	// ce and link are the placeholders replaced when the entries are encoded
	ce   *spec.SystemUseEntry
	link *spec.SystemUseEntry
}

// Build arranges the entries for a directory record. available is the number of system use bytes the record can hold
// after its identifier, padding and XA record; bytesSkipped is recorded in the SP entry of the root '.' record.
//
// Entries are recorded in the order SP, RR, CE, PX, SL, NM, CL, PL, RE, TF. When they do not all fit in the record, a
// CE entry is reserved, as much of the alternate name as fits stays in the record, and everything else moves to the
// continuation area.
func Build(v Version, a *Attributes, bytesSkipped uint8, available int) (*Layout, error) {
	if _, ok := extensions[v]; !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedVersion, v)
	}

	var sp *spec.SystemUseEntry
	if a.RootDot {
		var err error
		sp, err = spec.NewSystemUseEntry(spec.SignatureSharingProtocol, &spec.SharingProtocolIndicator{
			CheckBytes:   spec.SharingProtocolCheckBytes,
			BytesSkipped: bytesSkipped,
		})
		if err != nil {
			return nil, err
		}
	}

	px, err := newPXEntry(v, a.Mode, a.Links, a.UID, a.GID, a.Serial)
	if err != nil {
		return nil, err
	}

	tf, err := newTFEntry(a.Modified, a.Accessed, a.Changed)
	if err != nil {
		return nil, err
	}

	flags := rrFlagPX | rrFlagTF
	layout := &Layout{}

	var sl []*spec.SystemUseEntry
	if a.Target != "" && a.Kind == RecordEntry {
		sl, err = newSLEntries(a.Target)
		if err != nil {
			return nil, err
		}
		flags |= rrFlagSL
	}

	var nm []*spec.SystemUseEntry
	if a.Name != "" && a.Kind == RecordEntry {
		if err := ValidateName(a.Name); err != nil {
			return nil, err
		}
		nm = newNMEntries(a.Name, maxEntryPayload-1)
		flags |= rrFlagNM
	}

	var links []*spec.SystemUseEntry
	switch {
	case a.ChildLink && a.Kind == RecordEntry:
		if layout.link, err = newLinkEntry(spec.SignatureChildLink, 0); err != nil {
			return nil, err
		}
		links = append(links, layout.link)
		flags |= rrFlagCL
	case a.ParentLink && a.Kind == RecordDotDot:
		if layout.link, err = newLinkEntry(spec.SignatureParentLink, 0); err != nil {
			return nil, err
		}
		links = append(links, layout.link)
		flags |= rrFlagPL
	}
	if a.Relocated && a.Kind == RecordEntry {
		links = append(links, &spec.SystemUseEntry{Signature: spec.SignatureRelocated, Version: 1})
		flags |= rrFlagRE
	}

	var head []*spec.SystemUseEntry
	if sp != nil {
		head = append(head, sp)
	}
	if v == Version109 {
		head = append(head, newRREntry(flags))
	}

	if a.RootDot {
		er, err := newExtensionsReference(v)
		if err != nil {
			return nil, err
		}

		layout.ce = newContinuationPlaceholder()
		layout.inRecord = slices.Concat(head, []*spec.SystemUseEntry{layout.ce, px}, sl, nm, links, []*spec.SystemUseEntry{tf})
		layout.continuation = []*spec.SystemUseEntry{er}

		return layout, layout.check(available)
	}

	full := slices.Concat(head, []*spec.SystemUseEntry{px}, sl, nm, links, []*spec.SystemUseEntry{tf})
	if entriesLength(full) <= available {
		layout.inRecord = full
		return layout, nil
	}

	layout.ce = newContinuationPlaceholder()
	layout.inRecord = slices.Concat(head, []*spec.SystemUseEntry{layout.ce})
	layout.continuation = slices.Concat([]*spec.SystemUseEntry{px}, sl)

	if a.Name != "" && a.Kind == RecordEntry {
		room := min(available-entriesLength(layout.inRecord)-nmEntryHeaderSize, maxEntryPayload-1)
		if room > 0 {
			nm = newNMEntries(a.Name, room)
			layout.inRecord = append(layout.inRecord, nm[0])
			nm = nm[1:]
		}
		layout.continuation = append(layout.continuation, nm...)
	}

	layout.continuation = slices.Concat(layout.continuation, links, []*spec.SystemUseEntry{tf})

	return layout, layout.check(available)
}

// newContinuationPlaceholder reserves the space of a CE entry until the location of the continuation area is known
func newContinuationPlaceholder() *spec.SystemUseEntry {
	return &spec.SystemUseEntry{
		Signature: spec.SignatureContinuation,
		Version:   1,
		Data:      make([]byte, spec.ContinuationEntrySize-spec.SystemUseEntryHeaderSize),
	}
}

func (l *Layout) check(available int) error {
	if entriesLength(l.inRecord) > available {
		return fmt.Errorf("%w: %d bytes of entries in a record with room for %d", ErrTooLarge, entriesLength(l.inRecord), available)
	}

	if l.ContinuationLen() > spec.LogicalSectorSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, l.ContinuationLen())
	}

	return nil
}

func entriesLength(entries []*spec.SystemUseEntry) int {
	total := 0
	for _, e := range entries {
		total += e.Len()
	}

	return total
}

// Len returns the number of bytes the layout occupies in the directory record
func (l *Layout) Len() int {
	return entriesLength(l.inRecord)
}

// ContinuationLen returns the size of the continuation area, or zero if the entries fit in the record
func (l *Layout) ContinuationLen() int {
	return entriesLength(l.continuation)
}

// SystemUse encodes the entries recorded in the directory record. The CE entry, if any, points at the given block and
// offset; link is the directory location recorded in a CL or PL entry.
func (l *Layout) SystemUse(block, offset, link uint32) ([]byte, error) {
	var ce *spec.SystemUseEntry
	if l.ce != nil {
		var err error
		ce, err = spec.NewSystemUseEntry(spec.SignatureContinuation, &spec.ContinuationEntry{
			BlockLocation: encode.AsUInt32BothByte(block),
			Offset:        encode.AsUInt32BothByte(offset),
			Length:        encode.AsUInt32BothByte(uint32(l.ContinuationLen())),
		})
		if err != nil {
			return nil, err
		}
	}

	return l.encode(l.inRecord, ce, link)
}

// Continuation encodes the entries of the continuation area; link is as for [Layout.SystemUse]
func (l *Layout) Continuation(link uint32) ([]byte, error) {
	return l.encode(l.continuation, nil, link)
}

func (l *Layout) encode(entries []*spec.SystemUseEntry, ce *spec.SystemUseEntry, link uint32) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		switch {
		case e == l.ce && ce != nil:
			e = ce
		case e == l.link:
			var err error
			if e, err = newLinkEntry(l.link.Signature, link); err != nil {
				return nil, err
			}
		}

		if _, err := e.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("could not encode %s entry: %w", e.Signature, err)
		}
	}

	return buf.Bytes(), nil
}
