package builder

import (
	"cmp"
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"slices"
)

var ErrTooLarge = errors.New("image exceeds the maximum volume size")

// Parent directory numbers in path table records are 16 bits wide
const maxPathTableDirectories = 0xFFFF

// Config holds the volume options that affect layout
type Config struct {
	Level        int
	RockRidge    rockridge.Version
	Joliet       bool
	XA           bool
	DuplicatePVD bool

	// SequenceNumber is the volume sequence number recorded in every directory record. Zero means 1.
	SequenceNumber uint16

	// BootCatalog is the content standing in for the El Torito boot catalog, or [tree.NoContent] when the image is
	// not bootable
	BootCatalog tree.ContentID

	// BootImages are the contents of the boot images, in catalog order
	BootImages []tree.ContentID
}

func (c *Config) sequenceNumber() uint16 {
	if c.SequenceNumber == 0 {
		return 1
	}

	return c.SequenceNumber
}

// Bootable reports whether the configuration includes an El Torito boot catalog
func (c *Config) Bootable() bool {
	return c.BootCatalog != tree.NoContent
}

// Plan assigns an extent to every structure of an image. Plans are computed from scratch for a tree and
// configuration and never modified afterwards, so computing a plan twice for the same input gives identical results.
type Plan struct {
	PrimaryVolumeDescriptor   uint32
	DuplicateVolumeDescriptor uint32
	BootRecord                uint32
	EnhancedVolumeDescriptor  uint32
	JolietVolumeDescriptor    uint32
	Terminator                uint32
	VersionDescriptor         uint32

	Primary *Hierarchy
	Joliet  *Hierarchy

	// ContinuationStart is the first of the blocks shared by the continuation areas of ordinary records
	ContinuationStart  uint32
	ContinuationBlocks uint32

	BootCatalog uint32
	BootImages  []uint32

	// Size is the total number of blocks in the image
	Size uint32

	// tree is the arrangement recorded on the volume, in which deep directories have been relocated
	tree        *tree.Tree
	relocations *tree.Relocations
	config      Config
	contents    map[tree.ContentID]uint32
	empty       map[tree.NodeID]uint32
}

// Hierarchy is the layout of one namespace: its path tables and its directories in breadth-first order
type Hierarchy struct {
	Namespace tree.Namespace

	PathTableSize    uint32
	PathTableExtents uint32
	LPathTable       uint32
	MPathTable       uint32

	Directories []*Directory
	byNode      map[tree.NodeID]*Directory
}

// Directory is the layout of a single directory extent
type Directory struct {
	Node     tree.NodeID
	Location uint32
	Size     uint32

	// Number is the directory's 1-based position in the path table; Parent is its parent's number
	Number int
	Parent int

	Records []*Record
}

// Record is a single directory record within a directory extent
type Record struct {
	Kind rockridge.RecordKind

	// Node is the node the record describes: the directory itself for '.', its parent for '..'
	Node       tree.NodeID
	Identifier spec.FileIdentifier

	// Part is the index of this record among the records of a multi-extent file, and Parts their number
	Part  int
	Parts int

	Length int
	Offset int

	// ChildLink marks the record left in the logical parent of a relocated directory
	ChildLink bool

	rockRidge          *rockridge.Layout
	continuationBlock  uint32
	continuationOffset uint32
}

// NewPlan lays out an image. Structures are placed in this order after the system area: the volume descriptor set, a
// reserved version descriptor block, path tables, directories of each namespace (each followed by the continuation
// block of its '.' record, if any), the remaining Rock Ridge continuation areas, the boot catalog, boot images and
// finally all other file contents in breadth-first order.
//
// With Rock Ridge, directories deeper than the tree allows are laid out inside the relocation directory and linked to
// from their logical parents.
func NewPlan(t *tree.Tree, config Config) (*Plan, error) {
	p := &Plan{
		tree:     t,
		config:   config,
		contents: make(map[tree.ContentID]uint32),
		empty:    make(map[tree.NodeID]uint32),
	}

	if config.RockRidge != "" {
		var err error
		if p.tree, p.relocations, err = t.Relocate(); err != nil {
			return nil, err
		}
	}

	alloc := NewAllocator(spec.SystemAreaSectors)

	p.PrimaryVolumeDescriptor = alloc.Allocate(logicalBlockSize)
	if config.DuplicatePVD {
		p.DuplicateVolumeDescriptor = alloc.Allocate(logicalBlockSize)
	}
	if config.Bootable() {
		p.BootRecord = alloc.Allocate(logicalBlockSize)
	}
	if config.Level == 4 {
		p.EnhancedVolumeDescriptor = alloc.Allocate(logicalBlockSize)
	}
	if config.Joliet {
		p.JolietVolumeDescriptor = alloc.Allocate(logicalBlockSize)
	}
	p.Terminator = alloc.Allocate(logicalBlockSize)
	p.VersionDescriptor = alloc.Allocate(logicalBlockSize)

	var err error
	if p.Primary, err = p.newHierarchy(tree.Primary); err != nil {
		return nil, err
	}

	hierarchies := []*Hierarchy{p.Primary}
	if config.Joliet {
		if p.Joliet, err = p.newHierarchy(tree.Joliet); err != nil {
			return nil, err
		}
		hierarchies = append(hierarchies, p.Joliet)
	}

	for _, h := range hierarchies {
		h.allocatePathTables(alloc)
	}

	for _, h := range hierarchies {
		for _, dir := range h.Directories {
			dir.Location = alloc.Allocate(int64(dir.Size))

			// The continuation area of a '.' record, which holds the extension reference of the root, gets a block
			// of its own straight after the directory
			if dot := dir.Records[0]; dot.hasContinuation() {
				dot.continuationBlock = alloc.Allocate(logicalBlockSize)
			}
		}
	}

	p.allocateContinuations(alloc)

	if config.Bootable() {
		p.BootCatalog = alloc.Allocate(logicalBlockSize)
		p.contents[config.BootCatalog] = p.BootCatalog

		for _, image := range config.BootImages {
			p.BootImages = append(p.BootImages, p.allocateContent(alloc, image))
		}
	}

	for _, h := range hierarchies {
		for id := range p.tree.Walk(h.Namespace) {
			node := p.tree.Node(id)
			switch {
			case node.IsDir():
			case node.Content == tree.NoContent:
				p.empty[id] = alloc.Next()
			default:
				p.allocateContent(alloc, node.Content)
			}
		}
	}

	p.Size = alloc.Next()
	if alloc.Overflowed() {
		return nil, fmt.Errorf("%w: more than %d blocks", ErrTooLarge, ^uint32(0))
	}

	return p, nil
}

func (p *Plan) allocateContent(alloc *Allocator, id tree.ContentID) uint32 {
	if location, ok := p.contents[id]; ok {
		return location
	}

	location := alloc.Allocate(p.tree.Content(id).Length)
	p.contents[id] = location

	return location
}

func (h *Hierarchy) allocatePathTables(alloc *Allocator) {
	// Each table gets the same amount of redundancy space after it, which is rounded up to a whole pair of blocks
	pairs := (int64(h.PathTableSize) + 2*logicalBlockSize - 1) / (2 * logicalBlockSize)
	h.PathTableExtents = uint32(2 * pairs)

	h.LPathTable = alloc.Allocate(int64(h.PathTableExtents) * logicalBlockSize)
	h.MPathTable = alloc.Allocate(int64(h.PathTableExtents) * logicalBlockSize)
}

func (p *Plan) newHierarchy(ns tree.Namespace) (*Hierarchy, error) {
	h := &Hierarchy{Namespace: ns, byNode: make(map[tree.NodeID]*Directory)}

	for id := range p.tree.Directories(ns) {
		node := p.tree.Node(id)

		dir := &Directory{Node: id, Number: len(h.Directories) + 1, Parent: 1}
		if parent, ok := h.byNode[node.Parent]; ok && node.Parent != id {
			dir.Parent = parent.Number
		}

		identifier, err := p.identifier(id)
		if err != nil {
			return nil, err
		}
		h.PathTableSize += uint32((&spec.PathTableRecord{DirectoryIdentifier: identifier}).Size())

		if err := p.addRecords(dir); err != nil {
			return nil, err
		}

		offset := 0
		for _, record := range dir.Records {
			if offset%logicalBlockSize+record.Length > logicalBlockSize {
				offset += logicalBlockSize - offset%logicalBlockSize
			}
			record.Offset = offset
			offset += record.Length
		}
		dir.Size = encode.SectorsFor(int64(offset)) * logicalBlockSize

		h.Directories = append(h.Directories, dir)
		h.byNode[id] = dir
	}

	if len(h.Directories) > maxPathTableDirectories {
		return nil, fmt.Errorf("%w: %d directories in the %s namespace, at most %d can be numbered", ErrTooLarge, len(h.Directories), ns, maxPathTableDirectories)
	}

	return h, nil
}

// identifier returns the file identifier recorded for a node: its name as-is for the primary namespace, or encoded
// as UCS-2 for Joliet. Roots are identified by a single zero byte.
func (p *Plan) identifier(id tree.NodeID) (spec.FileIdentifier, error) {
	node := p.tree.Node(id)
	if id == p.tree.Root(node.Namespace) {
		return spec.FileIdentifierSelf, nil
	}

	if node.Namespace == tree.Joliet {
		return encode.AsJolietIdentifier(node.Name)
	}

	return spec.FileIdentifier(node.Name), nil
}

type entry struct {
	node       tree.NodeID
	identifier spec.FileIdentifier
	childLink  bool
}

// children lists the entries of a directory in record order, including the placeholders of relocated subdirectories
func (p *Plan) children(id tree.NodeID) ([]entry, error) {
	var children []entry
	for _, node := range p.tree.Node(id).Children {
		identifier, err := p.identifier(node)
		if err != nil {
			return nil, err
		}
		children = append(children, entry{node: node, identifier: identifier})
	}

	placeholders := p.relocations.PlaceholdersIn(id)
	if len(placeholders) == 0 {
		return children, nil
	}

	for _, node := range placeholders {
		children = append(children, entry{node: node, identifier: spec.FileIdentifier(p.relocations.Names[node]), childLink: true})
	}

	slices.SortFunc(children, func(a, b entry) int {
		return spec.CompareFileIdentifiers(string(a.identifier), p.tree.Node(a.node).IsDir(), string(b.identifier), p.tree.Node(b.node).IsDir())
	})

	return children, nil
}

func (p *Plan) addRecords(dir *Directory) error {
	node := p.tree.Node(dir.Node)

	dot := &Record{Kind: rockridge.RecordDot, Node: dir.Node, Identifier: spec.FileIdentifierSelf, Parts: 1}
	dotdot := &Record{Kind: rockridge.RecordDotDot, Node: node.Parent, Identifier: spec.FileIdentifierParent, Parts: 1}
	dir.Records = append(dir.Records, dot, dotdot)

	children, err := p.children(dir.Node)
	if err != nil {
		return err
	}

	for _, e := range children {
		parts := 1
		if c := p.tree.Content(p.tree.Node(e.node).Content); c != nil && c.Length > spec.MaxExtentLength {
			parts = int((c.Length + spec.MaxExtentLength - 1) / spec.MaxExtentLength)
		}

		for part := range parts {
			dir.Records = append(dir.Records, &Record{
				Kind:       rockridge.RecordEntry,
				Node:       e.node,
				Identifier: e.identifier,
				Part:       part,
				Parts:      parts,
				ChildLink:  e.childLink,
			})
		}
	}

	for _, record := range dir.Records {
		if err := p.sizeRecord(dir, record); err != nil {
			return err
		}
	}

	return nil
}

func (p *Plan) xaLength(ns tree.Namespace) int {
	if p.config.XA && ns == tree.Primary {
		return spec.XARecordSize
	}

	return 0
}

func (p *Plan) sizeRecord(dir *Directory, record *Record) error {
	ns := p.tree.Node(dir.Node).Namespace
	xa := p.xaLength(ns)

	systemUse := xa
	if p.config.RockRidge != "" && ns == tree.Primary {
		available := spec.MaxDirectoryRecordSize - 1 - spec.DirectoryRecordLength(len(record.Identifier), 0) - xa

		bytesSkipped := uint8(0)
		if xa > 0 {
			bytesSkipped = uint8(xa)
		}

		layout, err := rockridge.Build(p.config.RockRidge, p.rockRidgeAttributes(dir, record), bytesSkipped, available)
		if err != nil {
			return fmt.Errorf("could not lay out Rock Ridge entries for '%s': %w", p.tree.Path(record.Node), err)
		}

		record.rockRidge = layout
		systemUse += layout.Len()
	}

	record.Length = spec.DirectoryRecordLength(len(record.Identifier), systemUse)
	if record.Length > spec.MaxDirectoryRecordSize {
		return fmt.Errorf("%w: '%s'", spec.ErrRecordTooLong, p.tree.Path(record.Node))
	}

	return nil
}

// rockRidgeAttributes collects the POSIX attributes recorded for a record, filling in defaults
func (p *Plan) rockRidgeAttributes(dir *Directory, record *Record) *rockridge.Attributes {
	node := p.tree.Node(record.Node)
	a := &rockridge.Attributes{
		Kind:    record.Kind,
		RootDot: record.Kind == rockridge.RecordDot && dir.Node == p.tree.Root(tree.Primary),
	}

	rr := node.RockRidge
	if rr == nil {
		rr = &tree.RockRidge{}
	}

	if record.Kind == rockridge.RecordEntry {
		a.Name = rr.Name
		if node.Kind == tree.KindSymlink {
			a.Target = rr.Target
		}
	}

	a.ChildLink = record.ChildLink
	a.ParentLink = record.Kind == rockridge.RecordDotDot && p.relocations.IsRelocated(dir.Node)
	a.Relocated = record.Kind == rockridge.RecordEntry && !record.ChildLink && p.relocations.IsRelocated(record.Node)

	a.Mode, a.Links = rr.Mode, rr.Links
	if a.Mode == 0 {
		switch node.Kind {
		case tree.KindDirectory:
			a.Mode = tree.ModeDirectory
		case tree.KindSymlink:
			a.Mode = tree.ModeSymlink
		default:
			a.Mode = tree.ModeFile
		}
	}

	if node.IsDir() {
		a.Links = 2 + uint32(p.tree.Subdirectories(record.Node)+len(p.relocations.PlaceholdersIn(record.Node)))
	} else if a.Links == 0 {
		a.Links = 1
	}

	a.UID, a.GID, a.Serial = rr.UID, rr.GID, rr.Serial

	a.Modified, a.Accessed, a.Changed = rr.Modified, rr.Accessed, rr.Changed
	if a.Modified.IsZero() {
		a.Modified = node.Recorded
	}
	if a.Accessed.IsZero() {
		a.Accessed = node.Recorded
	}
	if a.Changed.IsZero() {
		a.Changed = node.Recorded
	}

	return a
}

// link returns the directory location recorded in the CL or PL entry of a record
func (p *Plan) link(dir *Directory, record *Record) uint32 {
	switch {
	case record.ChildLink:
		location, _ := p.Extent(record.Node, 0)
		return location
	case record.Kind == rockridge.RecordDotDot && p.relocations.IsRelocated(dir.Node):
		location, _ := p.Extent(p.relocations.Parents[dir.Node], 0)
		return location
	default:
		return 0
	}
}

// Path returns the path of a node as it is recorded on the volume
func (p *Plan) Path(id tree.NodeID) string {
	return p.tree.Path(id)
}

func (r *Record) hasContinuation() bool {
	return r.rockRidge != nil && r.rockRidge.ContinuationLen() > 0
}

// DotContinuation returns the block holding the continuation area of the directory's '.' record, if it has one
func (d *Directory) DotContinuation() (uint32, bool) {
	dot := d.Records[0]
	return dot.continuationBlock, dot.hasContinuation()
}

// allocateContinuations packs the continuation areas of all records other than '.' records into shared blocks after
// the directories of every namespace
func (p *Plan) allocateContinuations(alloc *Allocator) {
	var block, offset uint32
	allocated := false

	for _, dir := range p.Primary.Directories {
		for _, record := range dir.Records {
			if record.Kind == rockridge.RecordDot || !record.hasContinuation() {
				continue
			}

			length := uint32(record.rockRidge.ContinuationLen())
			if !allocated || offset+length > logicalBlockSize {
				block, offset = alloc.Allocate(logicalBlockSize), 0
				if !allocated {
					p.ContinuationStart = block
				}
				allocated = true
				p.ContinuationBlocks++
			}

			record.continuationBlock, record.continuationOffset = block, offset
			offset += length
		}
	}
}

// Directory returns the layout of a directory node
func (p *Plan) Directory(id tree.NodeID) (*Directory, bool) {
	for _, h := range []*Hierarchy{p.Primary, p.Joliet} {
		if h == nil {
			continue
		}

		if dir, ok := h.byNode[id]; ok {
			return dir, true
		}
	}

	return nil, false
}

// Hierarchy returns the layout of a namespace, or nil if the namespace is not recorded
func (p *Plan) Hierarchy(ns tree.Namespace) *Hierarchy {
	if ns == tree.Joliet {
		return p.Joliet
	}

	return p.Primary
}

// ContentLocation returns the first block of a content's extent
func (p *Plan) ContentLocation(id tree.ContentID) (uint32, bool) {
	location, ok := p.contents[id]
	return location, ok
}

// ContentExtent is the first block of the data of a content
type ContentExtent struct {
	Content  tree.ContentID
	Location uint32
}

// Contents lists every allocated content in the order its data appears on the volume
func (p *Plan) Contents() []ContentExtent {
	extents := make([]ContentExtent, 0, len(p.contents))
	for id, location := range p.contents {
		extents = append(extents, ContentExtent{Content: id, Location: location})
	}

	slices.SortFunc(extents, func(a, b ContentExtent) int {
		return cmp.Or(cmp.Compare(a.Location, b.Location), cmp.Compare(a.Content, b.Content))
	})

	return extents
}

// Extent returns the location and data length recorded for a node. For multi-extent files this is the location and
// length of the given part.
func (p *Plan) Extent(id tree.NodeID, part int) (location uint32, length uint32) {
	if dir, ok := p.Directory(id); ok {
		return dir.Location, dir.Size
	}

	node := p.tree.Node(id)
	if node.Content == tree.NoContent {
		return p.empty[id], 0
	}

	location = p.contents[node.Content] + uint32(part)*(spec.MaxExtentLength/logicalBlockSize)

	remaining := p.tree.Content(node.Content).Length - int64(part)*spec.MaxExtentLength
	if remaining > spec.MaxExtentLength {
		remaining = spec.MaxExtentLength
	}

	return location, uint32(remaining)
}
