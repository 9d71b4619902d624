package builder

import (
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"time"
)

// Identifiers are the descriptive fields of the volume descriptors
type Identifiers struct {
	System        string
	Volume        string
	VolumeSet     string
	Publisher     string
	DataPreparer  string
	Application   string
	Copyright     string
	Abstract      string
	Bibliographic string

	SetSize        uint16
	SequenceNumber uint16

	ApplicationUse []byte

	Created    time.Time
	Modified   time.Time
	Expiration time.Time
	Effective  time.Time
}

// NewPrimaryVolumeDescriptor creates the primary volume descriptor of a plan
func NewPrimaryVolumeDescriptor(plan *Plan, ids *Identifiers) (*spec.PrimaryVolumeDescriptor, error) {
	pvd := newVolumeDescriptor(plan, ids, plan.Primary, spec.VolumeDescriptorTypePrimary, spec.VolumeDescriptorVersionStandard)
	pvd.FileStructureVersion = spec.FileStructureVersionPrimary

	// Identifiers have been validated by the time the image is written; parsed images may carry characters outside
	// the permitted sets, and these are preserved as-is
	fields := []struct {
		name   string
		value  string
		output []byte
	}{
		{"system identifier", ids.System, pvd.SystemIdentifier[:]},
		{"volume identifier", ids.Volume, pvd.VolumeIdentifier[:]},
		{"volume set identifier", ids.VolumeSet, pvd.VolumeSetIdentifier[:]},
		{"publisher identifier", ids.Publisher, pvd.PublisherIdentifier[:]},
		{"data preparer identifier", ids.DataPreparer, pvd.DataPreparerIdentifier[:]},
		{"application identifier", ids.Application, pvd.ApplicationIdentifier[:]},
		{"copyright file identifier", ids.Copyright, pvd.CopyrightFileIdentifier[:]},
		{"abstract file identifier", ids.Abstract, pvd.AbstractFileIdentifier[:]},
		{"bibliographic file identifier", ids.Bibliographic, pvd.BibliographicFileIdentifier[:]},
	}

	for _, field := range fields {
		if err := encode.AsACharacters(field.value, field.output, false, false); err != nil {
			return nil, fmt.Errorf("could not encode %s: %w", field.name, err)
		}
	}

	return pvd, nil
}

// NewEnhancedVolumeDescriptor creates the enhanced volume descriptor recorded at interchange level 4. It describes the
// same hierarchy as the primary volume descriptor.
func NewEnhancedVolumeDescriptor(plan *Plan, ids *Identifiers) (*spec.PrimaryVolumeDescriptor, error) {
	evd, err := NewPrimaryVolumeDescriptor(plan, ids)
	if err != nil {
		return nil, err
	}

	evd.Header.Kind = spec.VolumeDescriptorTypeSupplementary
	evd.Header.VolumeDescriptorVersion = spec.VolumeDescriptorVersionEnhanced
	evd.FileStructureVersion = spec.FileStructureVersionEnhanced

	return evd, nil
}

// NewJolietVolumeDescriptor creates the supplementary volume descriptor of the Joliet hierarchy
func NewJolietVolumeDescriptor(plan *Plan, ids *Identifiers) (*spec.PrimaryVolumeDescriptor, error) {
	svd := newVolumeDescriptor(plan, ids, plan.Joliet, spec.VolumeDescriptorTypeSupplementary, spec.VolumeDescriptorVersionStandard)
	svd.FileStructureVersion = spec.FileStructureVersionSupplementary
	copy(svd.EscapeSequences[:], encode.JolietEscapeSequence[:])

	fields := []struct {
		name   string
		value  string
		output []byte
	}{
		{"system identifier", ids.System, svd.SystemIdentifier[:]},
		{"volume identifier", ids.Volume, svd.VolumeIdentifier[:]},
		{"volume set identifier", ids.VolumeSet, svd.VolumeSetIdentifier[:]},
		{"publisher identifier", ids.Publisher, svd.PublisherIdentifier[:]},
		{"data preparer identifier", ids.DataPreparer, svd.DataPreparerIdentifier[:]},
		{"application identifier", ids.Application, svd.ApplicationIdentifier[:]},
		{"copyright file identifier", ids.Copyright, svd.CopyrightFileIdentifier[:]},
		{"abstract file identifier", ids.Abstract, svd.AbstractFileIdentifier[:]},
		{"bibliographic file identifier", ids.Bibliographic, svd.BibliographicFileIdentifier[:]},
	}

	for _, field := range fields {
		if err := encode.AsJolietField(field.value, field.output); err != nil {
			return nil, fmt.Errorf("could not encode Joliet %s: %w", field.name, err)
		}
	}

	return svd, nil
}

func newVolumeDescriptor(plan *Plan, ids *Identifiers, h *Hierarchy, kind spec.VolumeDescriptorType, version uint8) *spec.PrimaryVolumeDescriptor {
	setSize, sequenceNumber := ids.SetSize, ids.SequenceNumber
	if setSize == 0 {
		setSize = 1
	}
	if sequenceNumber == 0 {
		sequenceNumber = 1
	}

	vd := &spec.PrimaryVolumeDescriptor{
		Header: spec.VolumeDescriptor{
			Kind:                    kind,
			StandardIdentifier:      spec.StandardIdentifier,
			VolumeDescriptorVersion: version,
		},

		VolumeSpaceSize:      encode.AsUInt32BothByte(plan.Size),
		VolumeSetSize:        encode.AsUInt16BothByte(setSize),
		VolumeSequenceNumber: encode.AsUInt16BothByte(sequenceNumber),

		// This is a fixed value to make our implementation simpler;
		// Most ISOs that I've seen do a similar thing.
		LogicalBlockSize: encode.AsUInt16BothByte(logicalBlockSize),

		// The optional path table locations are left as zero: the space after each table is reserved, but no copy is
		// recorded there
		PathTableSize:          encode.AsUInt32BothByte(h.PathTableSize),
		LocationTypeLPathTable: h.LPathTable,
		LocationTypeMPathTable: h.MPathTable,

		RootDirectoryRecord:     plan.RootRecord(h.Namespace),
		RootDirectoryIdentifier: 0,

		VolumeCreationDateTime:     encode.AsLongDateTime(ids.Created),
		VolumeModificationDateTime: encode.AsLongDateTime(ids.Modified),
		VolumeExpirationDateTime:   encode.AsLongDateTime(ids.Expiration),
		VolumeEffectiveDateTime:    encode.AsLongDateTime(ids.Effective),
	}

	copy(vd.ApplicationUse[:], ids.ApplicationUse)
	if plan.config.XA {
		copy(vd.ApplicationUse[spec.XASignatureOffset:], spec.XASignature[:])
	}

	return vd
}

// NewBootRecordVolumeDescriptor creates the El Torito boot record pointing at the boot catalog of a plan
func NewBootRecordVolumeDescriptor(plan *Plan) *spec.BootRecordVolumeDescriptor {
	return &spec.BootRecordVolumeDescriptor{
		Header: spec.VolumeDescriptor{
			Kind:                    spec.VolumeDescriptorTypeBootRecord,
			StandardIdentifier:      spec.StandardIdentifier,
			VolumeDescriptorVersion: spec.VolumeDescriptorVersionStandard,
		},
		BootSystemIdentifier: spec.ElToritoSystemIdentifier,
		BootCatalogLocation:  plan.BootCatalog,
	}
}

// Namespaces lists the namespaces recorded by a plan
func (p *Plan) Namespaces() []tree.Namespace {
	if p.Joliet != nil {
		return []tree.Namespace{tree.Primary, tree.Joliet}
	}

	return []tree.Namespace{tree.Primary}
}
