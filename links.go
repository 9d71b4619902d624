package iso9660

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/tree"
)

// LinkOptions set the attributes of a new hard link
type LinkOptions struct {
	// RockRidgeName is required for primary namespace links in images with Rock Ridge extensions, except links to
	// the boot catalog
	RockRidgeName string

	Hidden bool
}

// AddHardLink binds the data of an existing entry, or the boot catalog, to a new path. The destination must be a
// [Primary] or [Joliet] selector for a path that does not exist yet.
func (i *Image) AddHardLink(from, to Selector, opts LinkOptions) error {
	switch to.kind {
	case selectorPrimary, selectorJoliet:
	case selectorNone:
		return invalidArgument("empty destination selector")
	default:
		return invalidArgument("cannot link to %s", to)
	}

	if from.kind == selectorNone {
		return invalidArgument("empty source selector")
	}

	return i.mutate("add-hard-link", func(st *state, c *change) error {
		content, err := st.resolveContent(c.tree, c.boot, from)
		if err != nil {
			return err
		}

		ns := to.namespace()
		if ns == tree.Joliet && !st.opts.Joliet {
			return invalidArgument("the image has no Joliet namespace")
		}

		parent, _, err := c.tree.Check(ns, to.path, tree.KindFile)
		if err != nil {
			if errors.Is(err, tree.ErrDuplicateEntry) {
				return fmt.Errorf("%w: '%s' in %s namespace", ErrAlreadyExists, to.path, ns)
			}
			return err
		}

		node := tree.Node{
			Kind:     tree.KindFile,
			Content:  content,
			Recorded: st.opts.Clock(),
			Hidden:   opts.Hidden,
		}

		if ns == tree.Primary && st.opts.RockRidge != "" {
			catalog := c.boot != nil && content == c.boot.catalog
			if opts.RockRidgeName != "" || !catalog {
				if err := checkRockRidgeName(c.tree, parent, opts.RockRidgeName); err != nil {
					return err
				}
			}

			node.RockRidge = &tree.RockRidge{Name: opts.RockRidgeName}
			if source := st.sourceAttributes(c.tree, from); source != nil {
				rr := *source
				rr.Name = opts.RockRidgeName
				node.RockRidge = &rr
			}
		} else if opts.RockRidgeName != "" {
			return invalidArgument("Rock Ridge names can only be given to primary namespace links in Rock Ridge images")
		}

		_, err = c.tree.Insert(ns, to.path, node)
		return err
	})
}

// sourceAttributes returns the Rock Ridge attributes of the entry a link is made from, if it has any
func (st *state) sourceAttributes(t *tree.Tree, from Selector) *tree.RockRidge {
	if from.kind == selectorBootCatalog || from.kind == selectorJoliet {
		return nil
	}

	id, err := st.resolve(t, from)
	if err != nil {
		return nil
	}

	return t.Node(id).RockRidge
}

// RemoveHardLink removes one binding of a file's data. The data stays in the image while any other binding or boot
// entry refers to it. Removing the [BootCatalog] hides the boot catalog from every namespace.
func (i *Image) RemoveHardLink(sel Selector) error {
	return i.mutate("remove-hard-link", func(st *state, c *change) error {
		if sel.kind == selectorBootCatalog {
			if c.boot == nil {
				return invalidArgument("the image has no El Torito boot catalog")
			}

			for _, id := range c.tree.Bindings(c.boot.catalog) {
				if err := c.tree.Remove(id); err != nil {
					return err
				}
			}

			return nil
		}

		id, err := st.resolve(c.tree, sel)
		if err != nil {
			return err
		}

		if c.tree.Node(id).IsDir() {
			return invalidArgument("%s is a directory", sel)
		}

		return c.tree.Remove(id)
	})
}
