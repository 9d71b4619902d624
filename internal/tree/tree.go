// Package tree holds the directory hierarchy of an image. Nodes of every namespace live in a single arena and are
// addressed by stable indices; file data is referenced through content identities so that several bindings (hard
// links) can share one extent run.
package tree

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/spec"
	"io"
	"iter"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidName          = errors.New("invalid name")
	ErrInvalidRockRidgeName = fmt.Errorf("%w: invalid Rock Ridge name", ErrInvalidName)
	ErrDuplicateEntry       = errors.New("duplicate entry")
	ErrNotFound             = errors.New("not found")
	ErrDirectoryNotEmpty    = errors.New("directory not empty")
	ErrHierarchyTooDeep     = errors.New("hierarchy too deep")
	ErrNotDirectory         = fmt.Errorf("%w: not a directory", ErrNotFound)
	ErrRootDirectory        = errors.New("the root directory cannot be removed")
)

// MaxDepth is the deepest level (the root being level 1) that a directory or file may occupy at interchange levels 1
// to 3
//
// ECMA-119 (5th ed.) §6.8.2.1
const MaxDepth = 8

// Namespace identifies one of the directory hierarchies recorded on the volume
type Namespace int

const (
	Primary Namespace = iota
	Joliet
)

func (n Namespace) String() string {
	switch n {
	case Primary:
		return "primary"
	case Joliet:
		return "joliet"
	default:
		return fmt.Sprintf("namespace(%d)", int(n))
	}
}

type Kind int

const (
	KindDirectory Kind = iota
	KindFile
	KindSymlink
)

// NodeID addresses a node in the arena
type NodeID int

// ContentID addresses a content identity
type ContentID int

// NoContent is the content of directories
const NoContent ContentID = -1

// RockRidge carries the POSIX attributes of a primary namespace node. Zero modes, link counts and times are replaced
// with defaults when the image is written.
type RockRidge struct {
	Name   string
	Mode   uint32
	Links  uint32
	UID    uint32
	GID    uint32
	Serial uint32

	// Target is the symbolic link target, for symlinks only
	Target string

	Modified time.Time
	Accessed time.Time
	Changed  time.Time
}

// Default POSIX modes
const (
	ModeDirectory uint32 = 0o040555
	ModeFile      uint32 = 0o100444
	ModeSymlink   uint32 = 0o120555
)

// Node is a file, directory or symbolic link in one namespace
type Node struct {
	Namespace Namespace
	Kind      Kind

	// Name is the identifier of the node within its parent: the d-character file identifier (e.g. 'FOO.;1') for the
	// primary namespace, or the decoded name for Joliet. The roots have an empty name.
	Name string

	Parent   NodeID
	Children []NodeID
	Content  ContentID
	Recorded time.Time
	Hidden   bool

	RockRidge *RockRidge
}

// IsDir reports whether the node is a directory
func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory
}

// Content is the data shared by every binding of a file
type Content struct {
	Length int64

	// Open returns a fresh reader over the data. It is called once for every time the data is written.
	Open func() (io.ReadCloser, error)

	// BootCatalog marks the content that stands in for the El Torito boot catalog. Its data is generated when the
	// image is written.
	BootCatalog bool
}

// Tree is an arena of nodes for both namespaces
type Tree struct {
	level    int
	relocate bool
	nodes    []*Node
	contents []*Content
	roots    [2]NodeID
}

// New creates a tree with empty primary and Joliet roots, enforcing the naming rules of the given interchange level
func New(level int, recorded time.Time) *Tree {
	t := &Tree{level: level}

	for _, ns := range []Namespace{Primary, Joliet} {
		id := NodeID(len(t.nodes))
		t.nodes = append(t.nodes, &Node{
			Namespace: ns,
			Kind:      KindDirectory,
			Parent:    id,
			Content:   NoContent,
			Recorded:  recorded,
		})
		t.roots[ns] = id
	}

	return t
}

// Level returns the interchange level whose naming rules the tree enforces
func (t *Tree) Level() int {
	return t.level
}

// SetLevel changes the interchange level whose naming rules apply to nodes inserted from now on
func (t *Tree) SetLevel(level int) {
	t.level = level
}

// Clone returns a deep copy of the tree structure. Contents are shared, as they are never modified in place.
func (t *Tree) Clone() *Tree {
	clone := &Tree{
		level:    t.level,
		relocate: t.relocate,
		nodes:    make([]*Node, len(t.nodes)),
		contents: slices.Clone(t.contents),
		roots:    t.roots,
	}

	for i, node := range t.nodes {
		if node == nil {
			continue
		}

		n := *node
		n.Children = slices.Clone(node.Children)
		if node.RockRidge != nil {
			rr := *node.RockRidge
			n.RockRidge = &rr
		}
		clone.nodes[i] = &n
	}

	return clone
}

// Root returns the root directory of a namespace
func (t *Tree) Root(ns Namespace) NodeID {
	return t.roots[ns]
}

// Node returns the node with the given ID, or nil if it has been removed
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}

	return t.nodes[id]
}

// AddContent registers a content identity
func (t *Tree) AddContent(c *Content) ContentID {
	t.contents = append(t.contents, c)
	return ContentID(len(t.contents) - 1)
}

// Content returns the content identity with the given ID
func (t *Tree) Content(id ContentID) *Content {
	if id < 0 || int(id) >= len(t.contents) {
		return nil
	}

	return t.contents[id]
}

// Bindings returns every node, in either namespace, that references the given content
func (t *Tree) Bindings(id ContentID) []NodeID {
	var bindings []NodeID
	for i, node := range t.nodes {
		if node != nil && node.Content == id {
			bindings = append(bindings, NodeID(i))
		}
	}

	return bindings
}

// SplitPath splits an absolute path into its components. Paths must start with '/'; the root is '/'.
func SplitPath(p string) ([]string, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%w: path '%s' is not absolute", ErrInvalidName, p)
	}

	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil, nil
	}

	components := strings.Split(trimmed, "/")
	for _, c := range components {
		if c == "" {
			return nil, fmt.Errorf("%w: path '%s' has an empty component", ErrInvalidName, p)
		}
	}

	return components, nil
}

// Lookup finds the node at an absolute path in a namespace
func (t *Tree) Lookup(ns Namespace, p string) (NodeID, error) {
	components, err := SplitPath(p)
	if err != nil {
		return 0, err
	}

	id := t.roots[ns]
	for i, component := range components {
		node := t.nodes[id]
		if !node.IsDir() {
			return 0, fmt.Errorf("%w: '/%s'", ErrNotDirectory, strings.Join(components[:i], "/"))
		}

		child, ok := t.child(id, component)
		if !ok {
			return 0, fmt.Errorf("%w: '%s' in %s namespace", ErrNotFound, p, ns)
		}

		id = child
	}

	return id, nil
}

func (t *Tree) child(parent NodeID, name string) (NodeID, bool) {
	for _, child := range t.nodes[parent].Children {
		if t.nodes[child].Name == name {
			return child, true
		}
	}

	return 0, false
}

// Check verifies that a node of the given kind could be inserted at an absolute path, returning the ID of the
// would-be parent and the new node's name.
func (t *Tree) Check(ns Namespace, p string, kind Kind) (NodeID, string, error) {
	components, err := SplitPath(p)
	if err != nil {
		return 0, "", err
	}

	if len(components) == 0 {
		return 0, "", fmt.Errorf("%w: cannot insert the root directory", ErrDuplicateEntry)
	}

	name := components[len(components)-1]
	if err := t.validateName(ns, name, kind); err != nil {
		return 0, "", fmt.Errorf("%w: '%s': %w", ErrInvalidName, p, err)
	}

	parent, err := t.Lookup(ns, "/"+strings.Join(components[:len(components)-1], "/"))
	if err != nil {
		return 0, "", err
	}

	if !t.nodes[parent].IsDir() {
		return 0, "", fmt.Errorf("%w: parent of '%s'", ErrNotDirectory, p)
	}

	if _, exists := t.child(parent, name); exists {
		return 0, "", fmt.Errorf("%w: '%s' in %s namespace", ErrDuplicateEntry, p, ns)
	}

	if ns == Primary && t.level < 4 {
		// Directories that are too deep are relocated when the tree allows it; files never are
		depth := t.VolumeDepth(parent) + 1
		if depth > MaxDepth && !(t.relocate && kind == KindDirectory) {
			return 0, "", fmt.Errorf("%w: '%s' would be at level %d", ErrHierarchyTooDeep, p, depth)
		}
	}

	return parent, name, nil
}

func (t *Tree) validateName(ns Namespace, name string, kind Kind) error {
	if ns == Joliet {
		return encode.ValidateJolietName(name)
	}

	return encode.ValidateFileIdentifier(name, t.level, kind == KindDirectory)
}

// Insert adds a node at an absolute path. The node's name, parent and children are set from the path.
func (t *Tree) Insert(ns Namespace, p string, node Node) (NodeID, error) {
	parent, name, err := t.Check(ns, p, node.Kind)
	if err != nil {
		return 0, err
	}

	node.Name = name

	return t.attach(parent, node), nil
}

// Attach adds a node to a directory without checking its name against the naming rules of the tree. It is used for
// trees read from existing images, whose names were chosen by another writer.
func (t *Tree) Attach(parent NodeID, node Node) (NodeID, error) {
	p := t.Node(parent)
	if p == nil || !p.IsDir() {
		return 0, ErrNotDirectory
	}

	if node.Name == "" {
		return 0, fmt.Errorf("%w: empty name in '%s'", ErrInvalidName, t.Path(parent))
	}

	if _, exists := t.child(parent, node.Name); exists {
		return 0, fmt.Errorf("%w: '%s' in '%s'", ErrDuplicateEntry, node.Name, t.Path(parent))
	}

	return t.attach(parent, node), nil
}

func (t *Tree) attach(parent NodeID, node Node) NodeID {
	node.Namespace = t.nodes[parent].Namespace
	node.Parent = parent
	node.Children = nil
	if node.Kind == KindDirectory {
		node.Content = NoContent
	}

	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &node)

	siblings := t.nodes[parent].Children
	index, _ := slices.BinarySearchFunc(siblings, id, t.compare)
	t.nodes[parent].Children = slices.Insert(siblings, index, id)

	return id
}

// Compare orders nodes in the order required of the directory records of siblings
func (t *Tree) Compare(a, b NodeID) int {
	return t.compare(a, b)
}

func (t *Tree) compare(a, b NodeID) int {
	na, nb := t.nodes[a], t.nodes[b]
	return spec.CompareFileIdentifiers(na.Name, na.IsDir(), nb.Name, nb.IsDir())
}

// Remove removes a node. Directories must be empty.
func (t *Tree) Remove(id NodeID) error {
	node := t.Node(id)
	if node == nil {
		return ErrNotFound
	}

	if id == t.roots[node.Namespace] {
		return ErrRootDirectory
	}

	if len(node.Children) > 0 {
		return fmt.Errorf("%w: '%s'", ErrDirectoryNotEmpty, t.Path(id))
	}

	parent := t.nodes[node.Parent]
	parent.Children = slices.DeleteFunc(parent.Children, func(child NodeID) bool { return child == id })
	t.nodes[id] = nil

	return nil
}

// Depth returns the level of a node, the root being level 1
func (t *Tree) Depth(id NodeID) int {
	depth := 1
	for node := t.nodes[id]; id != t.roots[node.Namespace]; node = t.nodes[id] {
		id = node.Parent
		depth++
	}

	return depth
}

// Path returns the absolute path of a node within its namespace
func (t *Tree) Path(id NodeID) string {
	var components []string
	for node := t.nodes[id]; id != t.roots[node.Namespace]; node = t.nodes[id] {
		components = append(components, node.Name)
		id = node.Parent
	}

	slices.Reverse(components)
	return "/" + strings.Join(components, "/")
}

// Walk yields the nodes of a namespace in breadth-first order, starting with the root. Siblings are yielded in
// directory record order.
func (t *Tree) Walk(ns Namespace) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		queue := []NodeID{t.roots[ns]}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]

			if !yield(id) {
				return
			}

			queue = append(queue, t.nodes[id].Children...)
		}
	}
}

// Directories yields the directories of a namespace in breadth-first order, which is the order of the path table
func (t *Tree) Directories(ns Namespace) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		for id := range t.Walk(ns) {
			if t.nodes[id].IsDir() && !yield(id) {
				return
			}
		}
	}
}

// Subdirectories returns the number of directories directly inside a directory
func (t *Tree) Subdirectories(id NodeID) int {
	count := 0
	for _, child := range t.nodes[id].Children {
		if t.nodes[child].IsDir() {
			count++
		}
	}

	return count
}

// Rename changes the name of a node in place, keeping its siblings sorted
func (t *Tree) Rename(id NodeID, name string) error {
	node := t.Node(id)
	if node == nil {
		return ErrNotFound
	}

	if err := t.validateName(node.Namespace, name, node.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidName, err)
	}

	if other, exists := t.child(node.Parent, name); exists && other != id {
		return fmt.Errorf("%w: '%s'", ErrDuplicateEntry, name)
	}

	node.Name = name
	slices.SortStableFunc(t.nodes[node.Parent].Children, t.compare)

	return nil
}

// LookupRockRidge finds the primary namespace node whose Rock Ridge names form the given absolute path. Nodes without
// a Rock Ridge name are matched by their identifier.
func (t *Tree) LookupRockRidge(p string) (NodeID, error) {
	components, err := SplitPath(p)
	if err != nil {
		return 0, err
	}

	id := t.roots[Primary]
	for _, component := range components {
		found := false
		for _, child := range t.nodes[id].Children {
			node := t.nodes[child]
			name := node.Name
			if node.RockRidge != nil && node.RockRidge.Name != "" {
				name = node.RockRidge.Name
			}

			if name == component {
				id, found = child, true
				break
			}
		}

		if !found {
			return 0, fmt.Errorf("%w: '%s' in Rock Ridge namespace", ErrNotFound, p)
		}
	}

	return id, nil
}
