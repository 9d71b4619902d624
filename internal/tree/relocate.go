package tree

import (
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"slices"
)

// MovedDirectoryName is the identifier of the directory in the primary root that relocated directories are moved into
const MovedDirectoryName = "RR_MOVED"

// movedDirectoryRockRidgeName is the Rock Ridge name given to a relocation directory created for a layout
const movedDirectoryRockRidgeName = "rr_moved"

// relocatedDepth is the level of a relocated directory: the root is level 1 and the relocation directory level 2
const relocatedDepth = 3

// SetRelocation allows primary namespace directories deeper than MaxDepth at interchange levels 1 to 3. Such
// directories are moved into the relocation directory when the image is laid out, which Rock Ridge records with CL, PL
// and RE entries.
func (t *Tree) SetRelocation(enabled bool) {
	t.relocate = enabled
}

// Relocation reports whether deep directories are relocated
func (t *Tree) Relocation() bool {
	return t.relocate
}

// VolumeDepth returns the level a node occupies on the volume, the root being level 1. When relocation is enabled, a
// directory that would be deeper than MaxDepth is counted at the level it is moved to.
func (t *Tree) VolumeDepth(id NodeID) int {
	node := t.nodes[id]
	if id == t.roots[node.Namespace] {
		return 1
	}

	depth := t.VolumeDepth(node.Parent) + 1
	if t.relocate && t.level < 4 && node.IsDir() && depth > MaxDepth {
		return relocatedDepth
	}

	return depth
}

// Relocations describes how the directories of a tree were rearranged by [Tree.Relocate]
type Relocations struct {
	// Directory is the relocation directory in the root
	Directory NodeID

	// Parents maps every relocated directory to the directory it belongs in
	Parents map[NodeID]NodeID

	// Placeholders lists, for every directory that lost a subdirectory to relocation, the relocated subdirectories
	Placeholders map[NodeID][]NodeID

	// Names maps every relocated directory to its name in the directory it belongs in. A directory is renamed inside
	// the relocation directory when another relocated directory already took its name.
	Names map[NodeID]string
}

// IsRelocated reports whether a directory was moved into the relocation directory
func (r *Relocations) IsRelocated(id NodeID) bool {
	if r == nil {
		return false
	}

	_, ok := r.Parents[id]
	return ok
}

// PlaceholdersIn returns the relocated directories that logically belong in a directory
func (r *Relocations) PlaceholdersIn(id NodeID) []NodeID {
	if r == nil {
		return nil
	}

	return r.Placeholders[id]
}

// Relocate returns the arrangement of the tree as it is recorded on the volume. Every primary namespace directory
// that would be deeper than MaxDepth is moved into the relocation directory, which is created in the root if it does
// not exist yet. The returned tree is a copy when anything moves; node and content IDs are preserved, so they can be
// used with either tree. The relocations are nil when nothing needs to move.
func (t *Tree) Relocate() (*Tree, *Relocations, error) {
	if !t.relocate || t.level >= 4 {
		return t, nil, nil
	}

	var deep []NodeID
	for id := range t.Walk(Primary) {
		node := t.nodes[id]
		if node.IsDir() && id != t.roots[Primary] && t.VolumeDepth(node.Parent)+1 > MaxDepth {
			deep = append(deep, id)
		}
	}

	if len(deep) == 0 {
		return t, nil, nil
	}

	c := t.Clone()
	root := c.roots[Primary]

	moved, exists := c.child(root, MovedDirectoryName)
	if exists && !c.nodes[moved].IsDir() {
		return nil, nil, fmt.Errorf("%w: '/%s' is needed for relocated directories but is not a directory", ErrDuplicateEntry, MovedDirectoryName)
	}
	if !exists {
		moved = c.attach(root, Node{
			Kind:      KindDirectory,
			Name:      MovedDirectoryName,
			Recorded:  c.nodes[root].Recorded,
			RockRidge: &RockRidge{Name: movedDirectoryRockRidgeName},
		})
	}

	r := &Relocations{
		Directory:    moved,
		Parents:      make(map[NodeID]NodeID),
		Placeholders: make(map[NodeID][]NodeID),
		Names:        make(map[NodeID]string),
	}

	for _, id := range deep {
		node := c.nodes[id]
		parent := node.Parent

		name, err := c.relocatedName(moved, node.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("'%s' cannot be relocated: %w", t.Path(id), err)
		}

		c.nodes[parent].Children = slices.DeleteFunc(c.nodes[parent].Children, func(child NodeID) bool { return child == id })

		r.Names[id] = node.Name
		node.Name = name
		node.Parent = moved
		siblings := c.nodes[moved].Children
		index, _ := slices.BinarySearchFunc(siblings, id, c.compare)
		c.nodes[moved].Children = slices.Insert(siblings, index, id)

		r.Parents[id] = parent
		r.Placeholders[parent] = append(r.Placeholders[parent], id)
	}

	return c, r, nil
}

// relocatedName picks the name of a directory inside the relocation directory. Clashing names get a three digit
// suffix counting up from 000, shortened as needed to stay a valid directory identifier.
func (t *Tree) relocatedName(moved NodeID, name string) (string, error) {
	if _, clash := t.child(moved, name); !clash {
		return name, nil
	}

	for i := range 1000 {
		suffix := fmt.Sprintf("%03d", i)

		base := name
		for base != "" && encode.ValidateFileIdentifier(base+suffix, t.level, true) != nil {
			base = base[:len(base)-1]
		}

		if _, clash := t.child(moved, base+suffix); !clash {
			return base + suffix, nil
		}
	}

	return "", fmt.Errorf("%w: '/%s' holds too many directories named '%s'", ErrDuplicateEntry, MovedDirectoryName, name)
}
