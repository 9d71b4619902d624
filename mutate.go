package iso9660

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"time"
)

// AddOptions name an entry in the extension namespaces and set its attributes
type AddOptions struct {
	// RockRidgeName is the POSIX name of the entry. It is required when the image records Rock Ridge extensions, and
	// rejected otherwise.
	RockRidgeName string

	// JolietPath is the absolute path of the entry in the Joliet namespace. It is required when the image records a
	// Joliet namespace, and rejected otherwise.
	JolietPath string

	// Hidden sets the hidden flag of the entry's directory records
	Hidden bool

	// Mode, UID and GID are recorded as Rock Ridge attributes. A zero mode means the default for the kind of entry.
	Mode uint32
	UID  uint32
	GID  uint32

	// Modified is recorded as the Rock Ridge modification time. Zero means the time the entry was added.
	Modified time.Time
}

// AddFile adds a file of the given length, whose data is read from src when the image is written
func (i *Image) AddFile(isoPath string, src DataSource, length int64, opts AddOptions) error {
	if src == nil && length > 0 {
		return invalidArgument("a data source is required for '%s'", isoPath)
	}
	if length < 0 {
		return invalidArgument("negative length %d for '%s'", length, isoPath)
	}

	return i.mutate("add-file", func(st *state, c *change) error {
		if length > spec.MaxExtentLength && st.opts.InterchangeLevel < 3 {
			return invalidArgument("'%s' needs several extents, which requires interchange level 3 or above", isoPath)
		}

		content := c.tree.AddContent(&tree.Content{Length: length, Open: src})

		return st.addEntry(c, isoPath, tree.Node{Kind: tree.KindFile, Content: content}, opts, "")
	})
}

// AddDirectory adds an empty directory
func (i *Image) AddDirectory(isoPath string, opts AddOptions) error {
	return i.mutate("add-directory", func(st *state, c *change) error {
		return st.addEntry(c, isoPath, tree.Node{Kind: tree.KindDirectory, Content: tree.NoContent}, opts, "")
	})
}

// AddSymlink adds a Rock Ridge symbolic link. When the image records a Joliet namespace, the link appears there as an
// empty file at opts.JolietPath.
func (i *Image) AddSymlink(isoPath, rockRidgeName, target string, opts AddOptions) error {
	if target == "" {
		return invalidArgument("symbolic link '%s' has no target", isoPath)
	}

	opts.RockRidgeName = rockRidgeName

	return i.mutate("add-symlink", func(st *state, c *change) error {
		if st.opts.RockRidge == "" {
			return invalidArgument("symbolic links require Rock Ridge extensions")
		}

		return st.addEntry(c, isoPath, tree.Node{Kind: tree.KindSymlink, Content: tree.NoContent}, opts, target)
	})
}

// RemoveFile removes the primary namespace binding of a file, and its Joliet binding when opts.JolietPath is set. The
// file's data stays in the image while any other binding or boot entry refers to it.
func (i *Image) RemoveFile(isoPath string, opts AddOptions) error {
	return i.mutate("remove-file", func(st *state, c *change) error {
		if err := removeEntry(c.tree, tree.Primary, isoPath, false); err != nil {
			return err
		}

		return st.removeJoliet(c, opts.JolietPath, false)
	})
}

// RemoveDirectory removes an empty directory, and its Joliet counterpart when opts.JolietPath is set
func (i *Image) RemoveDirectory(isoPath string, opts AddOptions) error {
	return i.mutate("remove-directory", func(st *state, c *change) error {
		if err := removeEntry(c.tree, tree.Primary, isoPath, true); err != nil {
			return err
		}

		return st.removeJoliet(c, opts.JolietPath, true)
	})
}

// SetHidden sets or clears the hidden flag of an entry
func (i *Image) SetHidden(sel Selector, hidden bool) error {
	return i.mutate("set-hidden", func(st *state, c *change) error {
		id, err := st.resolve(c.tree, sel)
		if err != nil {
			return err
		}

		c.tree.Node(id).Hidden = hidden

		return nil
	})
}

// addEntry inserts a node at a primary namespace path, with its Rock Ridge attributes and its Joliet counterpart
func (st *state) addEntry(c *change, isoPath string, node tree.Node, opts AddOptions, target string) error {
	if node.Recorded.IsZero() {
		node.Recorded = st.opts.Clock()
	}
	node.Hidden = opts.Hidden

	parent, _, err := c.tree.Check(tree.Primary, isoPath, node.Kind)
	if err != nil {
		return err
	}

	if st.opts.RockRidge != "" {
		if err := checkRockRidgeName(c.tree, parent, opts.RockRidgeName); err != nil {
			return fmt.Errorf("'%s': %w", isoPath, err)
		}

		node.RockRidge = &tree.RockRidge{
			Name:     opts.RockRidgeName,
			Mode:     opts.Mode,
			UID:      opts.UID,
			GID:      opts.GID,
			Target:   target,
			Modified: opts.Modified,
		}
	} else if opts.RockRidgeName != "" {
		return invalidArgument("the image has no Rock Ridge extensions")
	}

	var joliet tree.Node
	if st.opts.Joliet {
		if opts.JolietPath == "" {
			return invalidArgument("a Joliet path is required for '%s'", isoPath)
		}

		joliet = tree.Node{Kind: node.Kind, Content: node.Content, Recorded: node.Recorded, Hidden: opts.Hidden}
		if node.Kind == tree.KindSymlink {
			joliet.Kind = tree.KindFile
			joliet.Content = c.tree.AddContent(&tree.Content{})
		}
	} else if opts.JolietPath != "" {
		return invalidArgument("the image has no Joliet namespace")
	}

	if _, err := c.tree.Insert(tree.Primary, isoPath, node); err != nil {
		return err
	}

	if st.opts.Joliet {
		if _, err := c.tree.Insert(tree.Joliet, opts.JolietPath, joliet); err != nil {
			return err
		}
	}

	return nil
}

// checkRockRidgeName validates the Rock Ridge name of a new entry of a directory. Names must be unique within the
// directory, like identifiers.
func checkRockRidgeName(t *tree.Tree, parent tree.NodeID, name string) error {
	if name == "" {
		return invalidArgument("a Rock Ridge name is required")
	}

	if err := rockridge.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRockRidgeName, err)
	}

	for _, child := range t.Node(parent).Children {
		if rr := t.Node(child).RockRidge; rr != nil && rr.Name == name {
			return fmt.Errorf("%w: Rock Ridge name '%s'", ErrDuplicateEntry, name)
		}
	}

	return nil
}

func (st *state) removeJoliet(c *change, jolietPath string, directory bool) error {
	if jolietPath == "" {
		return nil
	}

	if !st.opts.Joliet {
		return invalidArgument("the image has no Joliet namespace")
	}

	return removeEntry(c.tree, tree.Joliet, jolietPath, directory)
}

func removeEntry(t *tree.Tree, ns tree.Namespace, p string, directory bool) error {
	id, err := t.Lookup(ns, p)
	if err != nil {
		return err
	}

	if t.Node(id).IsDir() != directory {
		if directory {
			return invalidArgument("'%s' is not a directory", p)
		}
		return invalidArgument("'%s' is a directory", p)
	}

	if err := t.Remove(id); err != nil {
		if errors.Is(err, tree.ErrRootDirectory) {
			return invalidArgument("%w", err)
		}
		return err
	}

	return nil
}
