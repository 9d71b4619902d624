package iso9660

import (
	"fmt"
	"github.com/davejbax/go-isofs/internal/tree"
)

type selectorKind int

const (
	selectorNone selectorKind = iota
	selectorPrimary
	selectorJoliet
	selectorRockRidge
	selectorBootCatalog
)

// Selector picks an entry of an image: a path in one of its namespaces, or the El Torito boot catalog. The zero
// Selector selects nothing and is rejected by every method.
type Selector struct {
	kind selectorKind
	path string
}

// Primary selects an entry by its ISO9660 path, e.g. '/DIR1/FOO.;1'
func Primary(path string) Selector {
	return Selector{kind: selectorPrimary, path: path}
}

// Joliet selects an entry by its Joliet path
func Joliet(path string) Selector {
	return Selector{kind: selectorJoliet, path: path}
}

// RockRidge selects a primary namespace entry by its Rock Ridge path. Rock Ridge selectors can be used to look entries
// up, but not as the destination of a hard link.
func RockRidge(path string) Selector {
	return Selector{kind: selectorRockRidge, path: path}
}

// BootCatalog selects the El Torito boot catalog
func BootCatalog() Selector {
	return Selector{kind: selectorBootCatalog}
}

func (s Selector) String() string {
	switch s.kind {
	case selectorPrimary:
		return fmt.Sprintf("primary:%s", s.path)
	case selectorJoliet:
		return fmt.Sprintf("joliet:%s", s.path)
	case selectorRockRidge:
		return fmt.Sprintf("rockridge:%s", s.path)
	case selectorBootCatalog:
		return "bootcatalog"
	default:
		return "none"
	}
}

// namespace returns the tree namespace holding the entries the selector picks
func (s Selector) namespace() tree.Namespace {
	if s.kind == selectorJoliet {
		return tree.Joliet
	}

	return tree.Primary
}

// resolve finds the node a path selector picks
func (st *state) resolve(t *tree.Tree, s Selector) (tree.NodeID, error) {
	switch s.kind {
	case selectorPrimary:
		return t.Lookup(tree.Primary, s.path)
	case selectorJoliet:
		if !st.opts.Joliet {
			return 0, invalidArgument("the image has no Joliet namespace")
		}
		return t.Lookup(tree.Joliet, s.path)
	case selectorRockRidge:
		if st.opts.RockRidge == "" {
			return 0, invalidArgument("the image has no Rock Ridge extensions")
		}
		return t.LookupRockRidge(s.path)
	case selectorBootCatalog:
		return 0, invalidArgument("the boot catalog has no single entry")
	default:
		return 0, invalidArgument("empty selector")
	}
}

// resolveContent finds the content a selector picks
func (st *state) resolveContent(t *tree.Tree, boot *bootState, s Selector) (tree.ContentID, error) {
	if s.kind == selectorBootCatalog {
		if boot == nil {
			return 0, invalidArgument("the image has no El Torito boot catalog")
		}
		return boot.catalog, nil
	}

	id, err := st.resolve(t, s)
	if err != nil {
		return 0, err
	}

	node := t.Node(id)
	if node.IsDir() {
		return 0, invalidArgument("'%s' is a directory", s.path)
	}
	if node.Content == tree.NoContent {
		return 0, invalidArgument("'%s' has no data", s.path)
	}

	return node.Content, nil
}
