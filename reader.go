package iso9660

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/builder"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/eltorito"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/sirupsen/logrus"
	"io"
	"slices"
	"strings"
)

// volumeSet holds the volume descriptors of an image that determine how it is read
type volumeSet struct {
	primary      *spec.PrimaryVolumeDescriptor
	joliet       *spec.PrimaryVolumeDescriptor
	duplicatePVD bool
	enhanced     bool

	bootable    bool
	bootCatalog uint32
}

// extentKey identifies file data by its first block and total length. Directory records with the same key are
// bindings of the same content.
type extentKey struct {
	location uint32
	length   int64
}

type imageReader struct {
	r    *io.SectionReader
	log  logrus.FieldLogger
	tree *tree.Tree

	xa           bool
	rockRidge    rockridge.Version
	bytesSkipped int
	multiExtent  bool

	contents   map[extentKey]tree.ContentID
	byLocation map[uint32]tree.ContentID
	visited    map[uint32]bool

	// moved holds the directories that relocated directories were found in
	moved map[tree.NodeID]bool
}

// parse reads the volume descriptors, directory hierarchies and boot catalog of an image. File data is not read; the
// contents of the returned state read it lazily from r.
func parse(r io.ReaderAt, size int64, options Options) (*state, error) {
	if size < (spec.SystemAreaSectors+1)*spec.LogicalSectorSize {
		return nil, corrupt("image is %d bytes, too small to hold a volume descriptor", size)
	}

	ir := &imageReader{
		r:          io.NewSectionReader(r, 0, size),
		log:        options.Logger.WithField("component", "iso9660"),
		contents:   make(map[extentKey]tree.ContentID),
		byLocation: make(map[uint32]tree.ContentID),
		visited:    make(map[uint32]bool),
		moved:      make(map[tree.NodeID]bool),
	}

	systemArea, err := ir.read(0, spec.SystemAreaSectors*spec.LogicalSectorSize)
	if err != nil {
		return nil, err
	}

	vs, err := ir.readVolumeDescriptors()
	if err != nil {
		return nil, err
	}

	pvd := vs.primary
	ir.xa = [8]uint8(pvd.ApplicationUse[spec.XASignatureOffset:]) == spec.XASignature

	root := pvd.RootDirectoryRecord
	ir.tree = tree.New(4, root.RecordingDateAndTime.Time())

	if err := ir.readDirectory(ir.tree.Root(tree.Primary), root.ExtentLocation.RealValue(), root.DataLength.RealValue()); err != nil {
		return nil, err
	}
	ir.removeMovedDirectories()

	if vs.joliet != nil {
		root := vs.joliet.RootDirectoryRecord
		ir.tree.Node(ir.tree.Root(tree.Joliet)).Recorded = root.RecordingDateAndTime.Time()

		if err := ir.readDirectory(ir.tree.Root(tree.Joliet), root.ExtentLocation.RealValue(), root.DataLength.RealValue()); err != nil {
			return nil, err
		}
	}

	level := 4
	if !vs.enhanced {
		level = ir.guessLevel()
	}
	ir.tree.SetLevel(level)
	ir.tree.SetRelocation(ir.rockRidge != "")

	var boot *bootState
	if vs.bootable {
		if boot, err = ir.readBootCatalog(vs.bootCatalog); err != nil {
			return nil, err
		}
	}

	opts, ids := optionsFromDescriptor(pvd, options)
	opts.InterchangeLevel = level
	opts.RockRidge = string(ir.rockRidge)
	opts.Joliet = vs.joliet != nil
	opts.XA = ir.xa
	opts.DuplicatePVD = vs.duplicatePVD

	st := &state{
		opts:       opts,
		ids:        ids,
		log:        ir.log,
		tree:       ir.tree,
		boot:       boot,
		systemArea: systemArea,
	}

	if st.plan, err = builder.NewPlan(st.tree, st.config(boot)); err != nil {
		return nil, corrupt("could not lay out image: %w", err)
	}

	st.log.WithFields(logrus.Fields{
		"level":     opts.InterchangeLevel,
		"rockRidge": opts.RockRidge,
		"joliet":    opts.Joliet,
		"xa":        opts.XA,
		"bootable":  boot != nil,
	}).Debug("Opened image")

	return st, nil
}

// read reads length bytes at offset, failing if they extend past the end of the image
func (ir *imageReader) read(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > ir.r.Size() {
		return nil, corrupt("%d bytes at offset %d extend past the end of the image", length, offset)
	}

	buf := make([]byte, length)
	if _, err := ir.r.ReadAt(buf, offset); err != nil && !(errors.Is(err, io.EOF) && offset+length == ir.r.Size()) {
		return nil, corrupt("could not read %d bytes at offset %d: %w", length, offset, err)
	}

	return buf, nil
}

func (ir *imageReader) readBlock(block uint32) ([]byte, error) {
	return ir.read(int64(block)*spec.LogicalSectorSize, spec.LogicalSectorSize)
}

func (ir *imageReader) readVolumeDescriptors() (*volumeSet, error) {
	vs := &volumeSet{}
	var primary []byte

	for block := uint32(spec.SystemAreaSectors); ; block++ {
		sector, err := ir.readBlock(block)
		if err != nil {
			return nil, corrupt("volume descriptor set is not terminated: %w", err)
		}

		header, err := spec.UnpackVolumeDescriptorHeader(sector)
		if err != nil {
			return nil, corrupt("%w", err)
		}
		if !header.Valid() {
			return nil, corrupt("block %d is not a volume descriptor", block)
		}

		switch header.Kind {
		case spec.VolumeDescriptorTypeTerminator:
			if vs.primary == nil {
				return nil, corrupt("no primary volume descriptor")
			}
			return vs, nil

		case spec.VolumeDescriptorTypePrimary:
			if vs.primary != nil {
				if !bytes.Equal(sector, primary) {
					return nil, corrupt("primary volume descriptor at block %d differs from the first", block)
				}
				vs.duplicatePVD = true
				continue
			}

			primary = sector
			if vs.primary, err = spec.UnpackPrimaryVolumeDescriptor(sector); err != nil {
				return nil, corrupt("%w", err)
			}

		case spec.VolumeDescriptorTypeSupplementary:
			if header.VolumeDescriptorVersion == spec.VolumeDescriptorVersionEnhanced {
				vs.enhanced = true
				continue
			}

			svd, err := spec.UnpackPrimaryVolumeDescriptor(sector)
			if err != nil {
				return nil, corrupt("%w", err)
			}

			if vs.joliet == nil && slices.Contains(encode.JolietEscapeSequences, [3]uint8(svd.EscapeSequences[:3])) {
				vs.joliet = svd
			}

		case spec.VolumeDescriptorTypeBootRecord:
			br, err := spec.UnpackBootRecordVolumeDescriptor(sector)
			if err != nil {
				return nil, corrupt("%w", err)
			}

			if br.BootSystemIdentifier == spec.ElToritoSystemIdentifier {
				vs.bootable = true
				vs.bootCatalog = br.BootCatalogLocation
			}
		}

		ir.log.WithFields(logrus.Fields{
			"block": block,
			"type":  header.Kind,
		}).Trace("Read volume descriptor")
	}
}

// readRecords splits a directory extent into its records. A zero length byte ends the records of a sector.
func readRecords(extent []byte) ([]*spec.DirectoryRecord, error) {
	var records []*spec.DirectoryRecord

	for offset := 0; offset < len(extent); {
		if extent[offset] == 0 {
			offset += spec.LogicalSectorSize - offset%spec.LogicalSectorSize
			continue
		}

		record, err := spec.UnpackDirectoryRecord(extent[offset:])
		if err != nil {
			return nil, fmt.Errorf("record at offset %d: %w", offset, err)
		}

		records = append(records, record)
		offset += int(record.Header.Length)
	}

	return records, nil
}

// readDirectory reads the records of a directory extent into the tree, descending into subdirectories
func (ir *imageReader) readDirectory(dir tree.NodeID, location, length uint32) error {
	path := ir.tree.Path(dir)
	ns := ir.tree.Node(dir).Namespace

	if ir.visited[location] {
		return corrupt("directory '%s' at block %d is recorded twice", path, location)
	}
	ir.visited[location] = true

	extent, err := ir.read(int64(location)*spec.LogicalSectorSize, int64(length))
	if err != nil {
		return err
	}

	records, err := readRecords(extent)
	if err != nil {
		return corrupt("directory '%s': %w", path, err)
	}

	if len(records) < 2 {
		return corrupt("directory '%s' has no '.' and '..' records", path)
	}

	if dir == ir.tree.Root(tree.Primary) {
		if err := ir.readRootSystemUse(records[0]); err != nil {
			return err
		}
	}

	for n := 2; n < len(records); n++ {
		parts := []*spec.DirectoryRecord{records[n]}
		for records[n].Header.FileFlags&spec.FileFlagMultiExtent != 0 && n+1 < len(records) {
			n++
			parts = append(parts, records[n])
		}

		if err := ir.readEntry(dir, ns, parts); err != nil {
			return err
		}
	}

	return nil
}

// readRootSystemUse detects the Rock Ridge extensions from the '.' record of the primary root, and takes the
// attributes of the root from it
func (ir *imageReader) readRootSystemUse(dot *spec.DirectoryRecord) error {
	systemUse := dot.SystemUse
	if ir.xa && len(systemUse) >= spec.XARecordSize {
		systemUse = systemUse[spec.XARecordSize:]
	}

	parsed, err := rockridge.Parse(systemUse, ir.readContinuation)
	if err != nil {
		ir.log.WithError(err).Debug("Root directory carries no readable system use entries")
		return nil
	}

	if !parsed.HasSharingProtocol && !parsed.IsRockRidge() {
		return nil
	}

	version, ok := parsed.Version()
	if !ok {
		return nil
	}

	ir.rockRidge = version
	ir.bytesSkipped = int(parsed.BytesSkipped)
	if !parsed.HasSharingProtocol && ir.xa {
		ir.bytesSkipped = spec.XARecordSize
	}

	ir.tree.Node(ir.tree.Root(tree.Primary)).RockRidge = rockRidgeAttributes(parsed)

	return nil
}

func (ir *imageReader) readContinuation(block, offset, length uint32) ([]byte, error) {
	return ir.read(int64(block)*spec.LogicalSectorSize+int64(offset), int64(length))
}

// readEntry adds the node described by the records of one entry. Multi-extent files have several records.
func (ir *imageReader) readEntry(dir tree.NodeID, ns tree.Namespace, parts []*spec.DirectoryRecord) error {
	first := parts[0]
	flags := first.Header.FileFlags

	node := tree.Node{
		Kind:     tree.KindFile,
		Content:  tree.NoContent,
		Recorded: first.Header.RecordingDateAndTime.Time(),
		Hidden:   flags&spec.FileFlagHidden != 0,
	}

	if ns == tree.Joliet {
		name, err := encode.FromJolietIdentifier(first.FileIdentifier)
		if err != nil {
			return corrupt("Joliet identifier in '%s': %w", ir.tree.Path(dir), err)
		}
		node.Name = name
	} else {
		node.Name = string(first.FileIdentifier)
	}

	if ns == tree.Primary && ir.rockRidge != "" {
		systemUse := first.SystemUse
		if len(systemUse) < ir.bytesSkipped {
			systemUse = nil
		} else {
			systemUse = systemUse[ir.bytesSkipped:]
		}

		parsed, err := rockridge.Parse(systemUse, ir.readContinuation)
		if err != nil {
			return corrupt("Rock Ridge entries of '%s' in '%s': %w", node.Name, ir.tree.Path(dir), err)
		}

		node.RockRidge = rockRidgeAttributes(parsed)
		if parsed.Target != "" {
			node.Kind = tree.KindSymlink
		}

		// Relocated directories are read through the placeholders in their logical parents
		switch {
		case parsed.Relocated:
			ir.moved[dir] = true
			return nil
		case parsed.ChildLink:
			return ir.readChildLink(dir, node, parsed.Link)
		}
	}

	if flags&spec.FileFlagDirectory != 0 {
		node.Kind = tree.KindDirectory
	}

	var location uint32
	var length int64
	if node.Kind == tree.KindFile {
		location, length = first.Header.ExtentLocation.RealValue(), 0
		for _, part := range parts {
			length += int64(part.Header.DataLength.RealValue())
		}

		node.Content = ir.content(parts, location, length)
	}

	id, err := ir.tree.Attach(dir, node)
	if err != nil {
		return corrupt("%w", err)
	}

	if node.Kind == tree.KindDirectory {
		return ir.readDirectory(id, first.Header.ExtentLocation.RealValue(), first.Header.DataLength.RealValue())
	}

	return nil
}

// readChildLink adds a directory that was relocated, reading it from the location its placeholder links to. The length
// of the directory is taken from its '.' record.
func (ir *imageReader) readChildLink(dir tree.NodeID, node tree.Node, location uint32) error {
	sector, err := ir.readBlock(location)
	if err != nil {
		return err
	}

	dot, err := spec.UnpackDirectoryRecord(sector)
	if err != nil {
		return corrupt("relocated directory '%s' in '%s': %w", node.Name, ir.tree.Path(dir), err)
	}

	node.Kind = tree.KindDirectory
	id, err := ir.tree.Attach(dir, node)
	if err != nil {
		return corrupt("%w", err)
	}

	return ir.readDirectory(id, location, dot.Header.DataLength.RealValue())
}

// removeMovedDirectories removes the directories that only held relocated directories, which are recreated whenever
// the image is laid out
func (ir *imageReader) removeMovedDirectories() {
	for id := range ir.moved {
		node := ir.tree.Node(id)
		if id == ir.tree.Root(tree.Primary) || len(node.Children) > 0 {
			continue
		}

		path := ir.tree.Path(id)
		if err := ir.tree.Remove(id); err == nil {
			ir.log.WithField("path", path).Debug("Removed relocation directory")
		}
	}
}

// content returns the content for file data, sharing it with earlier records of the same extent
func (ir *imageReader) content(parts []*spec.DirectoryRecord, location uint32, length int64) tree.ContentID {
	if len(parts) > 1 {
		ir.multiExtent = true
	}

	// Empty files are keyed by the location recorded for them too, so that a file and its Joliet counterpart keep
	// sharing one content and are laid out at the same block again
	key := extentKey{location: location, length: length}
	if id, ok := ir.contents[key]; ok {
		return id
	}

	if length == 0 {
		id := ir.tree.AddContent(&tree.Content{})
		ir.contents[key] = id
		return id
	}

	sections := make([]*io.SectionReader, len(parts))
	for n, part := range parts {
		offset := int64(part.Header.ExtentLocation.RealValue()) * spec.LogicalSectorSize
		sections[n] = io.NewSectionReader(ir.r, offset, int64(part.Header.DataLength.RealValue()))
	}

	id := ir.tree.AddContent(&tree.Content{
		Length: length,
		Open: func() (io.ReadCloser, error) {
			readers := make([]io.Reader, len(sections))
			for n, section := range sections {
				readers[n] = io.NewSectionReader(section, 0, section.Size())
			}

			return io.NopCloser(io.MultiReader(readers...)), nil
		},
	})

	ir.contents[key] = id
	if _, ok := ir.byLocation[location]; !ok {
		ir.byLocation[location] = id
	}

	return id
}

func rockRidgeAttributes(parsed *rockridge.Parsed) *tree.RockRidge {
	return &tree.RockRidge{
		Name:     parsed.Name,
		Target:   parsed.Target,
		Mode:     parsed.Mode,
		Links:    parsed.Links,
		UID:      parsed.UID,
		GID:      parsed.GID,
		Serial:   parsed.Serial,
		Modified: parsed.Modified,
		Accessed: parsed.Accessed,
		Changed:  parsed.Changed,
	}
}

// guessLevel picks the lowest interchange level whose naming rules every primary namespace identifier follows
func (ir *imageReader) guessLevel() int {
	for level := 1; level < 3; level++ {
		if ir.multiExtent {
			break
		}

		valid := true
		for id := range ir.tree.Walk(tree.Primary) {
			node := ir.tree.Node(id)
			if id == ir.tree.Root(tree.Primary) {
				continue
			}

			if encode.ValidateFileIdentifier(node.Name, level, node.IsDir()) != nil {
				valid = false
				break
			}
		}

		if valid {
			return level
		}
	}

	return 3
}

// readBootCatalog reads the El Torito boot catalog, binding it and its boot images to the contents read from the
// directories. Catalogs and boot images that no directory record refers to get contents of their own.
func (ir *imageReader) readBootCatalog(location uint32) (*bootState, error) {
	sector, err := ir.readBlock(location)
	if err != nil {
		return nil, err
	}

	catalog, locations, err := eltorito.Parse(sector)
	if err != nil {
		return nil, corrupt("boot catalog at block %d: %w", location, err)
	}

	boot := &bootState{Catalog: *catalog}

	if id, ok := ir.byLocation[location]; ok {
		boot.catalog = id
	} else {
		boot.catalog = ir.tree.AddContent(&tree.Content{Length: spec.LogicalSectorSize})
	}
	ir.tree.Content(boot.catalog).BootCatalog = true

	for n, image := range locations {
		first, err := ir.readBlock(image)
		if err != nil {
			return nil, corrupt("boot image %d: %w", n, err)
		}

		table, hasTable := eltorito.ParseBootInfoTable(first, image)
		boot.Entries[n].BootInfoTable = hasTable

		id, ok := ir.byLocation[image]
		if !ok {
			// The length of an unbound image is only recorded by its boot info table; otherwise the catalog's sector
			// count is the best guess
			length := max(int64(boot.Entries[n].SectorCount)*512, spec.LogicalSectorSize)
			if hasTable {
				length = int64(table.BootFileLength)
			}

			id = ir.tree.AddContent(&tree.Content{
				Length: length,
				Open: func() (io.ReadCloser, error) {
					return io.NopCloser(io.NewSectionReader(ir.r, int64(image)*spec.LogicalSectorSize, length)), nil
				},
			})
			ir.byLocation[image] = id
		}

		boot.images = append(boot.images, id)
	}

	ir.log.WithFields(logrus.Fields{
		"block":   location,
		"entries": len(boot.Entries),
	}).Debug("Read boot catalog")

	return boot, nil
}

// optionsFromDescriptor recovers the identifiers of an image from its primary volume descriptor
func optionsFromDescriptor(pvd *spec.PrimaryVolumeDescriptor, options Options) (Options, *builder.Identifiers) {
	field := func(b []byte) string {
		return string(spec.TrimFiller(b))
	}

	ids := &builder.Identifiers{
		System:         field(pvd.SystemIdentifier[:]),
		Volume:         field(pvd.VolumeIdentifier[:]),
		VolumeSet:      field(pvd.VolumeSetIdentifier[:]),
		Publisher:      field(pvd.PublisherIdentifier[:]),
		DataPreparer:   field(pvd.DataPreparerIdentifier[:]),
		Application:    field(pvd.ApplicationIdentifier[:]),
		Copyright:      field(pvd.CopyrightFileIdentifier[:]),
		Abstract:       field(pvd.AbstractFileIdentifier[:]),
		Bibliographic:  field(pvd.BibliographicFileIdentifier[:]),
		SetSize:        pvd.VolumeSetSize.RealValue(),
		SequenceNumber: pvd.VolumeSequenceNumber.RealValue(),
		ApplicationUse: bytes.Clone(pvd.ApplicationUse[:]),
		Created:        pvd.VolumeCreationDateTime.Time(),
		Modified:       pvd.VolumeModificationDateTime.Time(),
		Expiration:     pvd.VolumeExpirationDateTime.Time(),
		Effective:      pvd.VolumeEffectiveDateTime.Time(),
	}

	options.SystemIdentifier = ids.System
	options.VolumeIdentifier = ids.Volume
	options.VolumeSetIdentifier = ids.VolumeSet
	options.PublisherIdentifier = ids.Publisher
	options.DataPreparerIdentifier = ids.DataPreparer
	options.ApplicationIdentifier = ids.Application
	options.CopyrightFileIdentifier = ids.Copyright
	options.AbstractFileIdentifier = ids.Abstract
	options.BibliographicFileID = ids.Bibliographic
	options.SetSize = max(ids.SetSize, 1)
	options.SequenceNumber = max(ids.SequenceNumber, 1)
	options.ApplicationUse = strings.TrimRight(string(pvd.ApplicationUse[:spec.XASignatureOffset]), "\x00 ")
	options.Expiration = ids.Expiration
	options.Effective = ids.Effective

	return options, ids
}
