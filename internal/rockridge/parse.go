package rockridge

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/lunixbochs/struc"
	"strings"
	"time"
)

// maxContinuations bounds the number of continuation areas followed for a single record
const maxContinuations = 32

var ErrTooManyContinuations = errors.New("too many system use continuation areas")

// ContinuationReader reads length bytes of a continuation area at the given block and offset
type ContinuationReader func(block, offset, length uint32) ([]byte, error)

// Parsed holds the Rock Ridge information decoded from the system use area of one directory record
type Parsed struct {
	Attributes

	// HasPosix is set when a PX entry was present
	HasPosix bool

	// HasSharingProtocol is set when an SP entry was present; BytesSkipped then holds its value
	HasSharingProtocol bool
	BytesSkipped       uint8

	// HasRR is set when the record carried the RR entry that only version 1.09 writes
	HasRR bool

	// LongPX is set when the PX entry carried a serial number, which only version 1.12 writes
	LongPX bool

	// Extensions lists the identifiers of any ER entries
	Extensions []string

	// Link is the directory location recorded in a CL or PL entry
	Link uint32
}

// Version guesses the Rock Ridge version from the decoded entries, preferring an ER entry when one was seen
func (p *Parsed) Version() (Version, bool) {
	for _, ext := range p.Extensions {
		if v, ok := VersionFromIdentifier(ext); ok {
			return v, true
		}
	}

	switch {
	case p.HasRR:
		return Version109, true
	case p.LongPX:
		return Version112, true
	case p.HasPosix:
		return Version109, true
	default:
		return "", false
	}
}

// IsRockRidge reports whether any Rock Ridge entries were decoded
func (p *Parsed) IsRockRidge() bool {
	return p.HasPosix || p.HasRR || p.Name != "" || p.Target != ""
}

// Parse decodes the entries of a system use area, following CE entries with read. Unknown entries are skipped.
func Parse(area []byte, read ContinuationReader) (*Parsed, error) {
	p := &Parsed{}
	state := &parseState{}

	for hops := 0; ; hops++ {
		entries, err := spec.UnpackSystemUse(area)
		if err != nil {
			return nil, err
		}

		var next *spec.ContinuationEntry
		for i := range entries {
			e := &entries[i]
			if e.Signature == spec.SignatureContinuation {
				var ce spec.ContinuationEntry
				if err := e.Unpack(&ce); err != nil {
					return nil, err
				}
				next = &ce
				continue
			}

			if err := state.apply(p, e); err != nil {
				return nil, err
			}
		}

		if next == nil || read == nil {
			break
		}

		if hops >= maxContinuations {
			return nil, ErrTooManyContinuations
		}

		area, err = read(next.BlockLocation.RealValue(), next.Offset.RealValue(), next.Length.RealValue())
		if err != nil {
			return nil, fmt.Errorf("could not read continuation area at block %d: %w", next.BlockLocation.RealValue(), err)
		}
	}

	if state.name.Len() > 0 {
		p.Name = state.name.String()
	}
	p.Target = state.target.String()

	return p, nil
}

type parseState struct {
	name   strings.Builder
	target strings.Builder

	// slContinue is set while the previous SL component continues into the next one
	slContinue bool
}

func (s *parseState) apply(p *Parsed, e *spec.SystemUseEntry) error {
	switch e.Signature {
	case spec.SignatureSharingProtocol:
		var sp spec.SharingProtocolIndicator
		if err := e.Unpack(&sp); err != nil {
			return err
		}
		if sp.CheckBytes != spec.SharingProtocolCheckBytes {
			return fmt.Errorf("%w: SP entry has check bytes %x", spec.ErrMalformedSystemUseEntry, sp.CheckBytes)
		}
		p.HasSharingProtocol = true
		p.BytesSkipped = sp.BytesSkipped

	case spec.SignatureExtensionsRef:
		id, err := e.ExtensionIdentifier()
		if err != nil {
			return err
		}
		p.Extensions = append(p.Extensions, id)

	case spec.SignatureRockRidge:
		p.HasRR = true

	case spec.SignaturePosixAttributes:
		if len(e.Data) < px109EntrySize-spec.SystemUseEntryHeaderSize {
			return fmt.Errorf("%w: PX entry is %d bytes long", spec.ErrMalformedSystemUseEntry, e.Len())
		}

		// Version 1.09 entries have no serial number; decode them as if it were zero
		data := make([]byte, px112EntrySize-spec.SystemUseEntryHeaderSize)
		copy(data, e.Data)

		var px posixAttributes
		if err := struc.Unpack(bytes.NewReader(data), &px); err != nil {
			return fmt.Errorf("%w: could not unpack PX payload: %w", spec.ErrMalformedSystemUseEntry, err)
		}

		p.HasPosix = true
		p.LongPX = len(e.Data) >= len(data)
		p.Mode = px.Mode.RealValue()
		p.Links = px.Links.RealValue()
		p.UID = px.UID.RealValue()
		p.GID = px.GID.RealValue()
		p.Serial = px.Serial.RealValue()

	case spec.SignatureAlternateName:
		if len(e.Data) < 1 {
			return fmt.Errorf("%w: NM entry has no flags", spec.ErrMalformedSystemUseEntry)
		}
		flags := e.Data[0]
		switch {
		case flags&nameFlagCurrent != 0:
			s.name.WriteString(".")
		case flags&nameFlagParent != 0:
			s.name.WriteString("..")
		default:
			s.name.Write(e.Data[1:])
		}

	case spec.SignatureSymbolicLink:
		return s.applySymbolicLink(e)

	case spec.SignatureChildLink, spec.SignatureParentLink:
		var link directoryLink
		if err := e.Unpack(&link); err != nil {
			return err
		}
		p.Link = link.Location.RealValue()
		p.ChildLink = e.Signature == spec.SignatureChildLink
		p.ParentLink = e.Signature == spec.SignatureParentLink

	case spec.SignatureRelocated:
		p.Relocated = true

	case spec.SignatureTimestamps:
		return applyTimestamps(p, e)
	}

	return nil
}

func (s *parseState) applySymbolicLink(e *spec.SystemUseEntry) error {
	if len(e.Data) < 1 {
		return fmt.Errorf("%w: SL entry has no flags", spec.ErrMalformedSystemUseEntry)
	}

	for components := e.Data[1:]; len(components) > 0; {
		if len(components) < 2 || len(components) < 2+int(components[1]) {
			return fmt.Errorf("%w: truncated SL component", spec.ErrMalformedSystemUseEntry)
		}

		flags := components[0]
		content := components[2 : 2+int(components[1])]
		components = components[2+len(content):]

		var text string
		switch {
		case flags&slFlagRoot != 0:
			text = "/"
		case flags&nameFlagCurrent != 0:
			text = "."
		case flags&nameFlagParent != 0:
			text = ".."
		default:
			text = string(content)
		}

		if s.target.Len() > 0 && !s.slContinue && !strings.HasSuffix(s.target.String(), "/") {
			s.target.WriteByte('/')
		}
		s.target.WriteString(text)
		s.slContinue = flags&nameFlagContinue != 0
	}

	return nil
}

func applyTimestamps(p *Parsed, e *spec.SystemUseEntry) error {
	if len(e.Data) < 1 {
		return fmt.Errorf("%w: TF entry has no flags", spec.ErrMalformedSystemUseEntry)
	}

	flags := e.Data[0]
	size := 7
	if flags&tfFlagLongForm != 0 {
		size = 17
	}

	stamps := e.Data[1:]
	for _, bit := range []uint8{tfFlagCreation, tfFlagModify, tfFlagAccess, tfFlagAttributes, tfFlagBackup, tfFlagExpiration, tfFlagEffective} {
		if flags&bit == 0 {
			continue
		}

		if len(stamps) < size {
			return fmt.Errorf("%w: truncated TF entry", spec.ErrMalformedSystemUseEntry)
		}

		t, err := decodeStamp(stamps[:size])
		if err != nil {
			return err
		}
		stamps = stamps[size:]

		switch bit {
		case tfFlagModify:
			p.Modified = t
		case tfFlagAccess:
			p.Accessed = t
		case tfFlagAttributes:
			p.Changed = t
		}
	}

	return nil
}

func decodeStamp(b []byte) (time.Time, error) {
	if len(b) == 7 {
		return spec.DateTime{
			YearsSince1900:            b[0],
			Month:                     b[1],
			Day:                       b[2],
			Hour:                      b[3],
			Minute:                    b[4],
			Second:                    b[5],
			GMTOffsetIn15MinIntervals: int8(b[6]),
		}.Time(), nil
	}

	var ldt spec.LongDateTime
	if err := struc.Unpack(bytes.NewReader(b), &ldt); err != nil {
		return time.Time{}, fmt.Errorf("%w: could not unpack TF time stamp: %w", spec.ErrMalformedSystemUseEntry, err)
	}

	return ldt.Time(), nil
}
