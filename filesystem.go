package iso9660

import (
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/encode"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/sirupsen/logrus"
	"io/fs"
	"path"
	"strconv"
	"strings"
)

// FSOptions control how a filesystem is imported by [Image.AddFS]
type FSOptions struct {
	// Dir is the directory of the source filesystem to import. Defaults to its root.
	Dir string

	// Prefix is the primary namespace directory the tree is imported into, which must exist. Defaults to the root.
	Prefix string

	// JolietPrefix is the Joliet directory the tree is imported into. Defaults to the root.
	JolietPrefix string

	// PreserveModes records the permission bits of the source as Rock Ridge modes. By default, entries get read-only
	// modes.
	PreserveModes bool

	UID uint32
	GID uint32
}

// readLinkFS is implemented by filesystems that can report the target of a symbolic link
type readLinkFS interface {
	fs.FS
	ReadLink(name string) (string, error)
}

// maxMangleAttempts bounds the search for a free identifier when mangled names collide
const maxMangleAttempts = 1000

// AddFS imports a directory tree. Names are mapped to identifiers valid at the image's interchange level; the source
// names are kept as Rock Ridge names and Joliet paths when the image records those namespaces. Symbolic links are
// imported when the image records Rock Ridge extensions and the filesystem can read links, and skipped otherwise.
//
// The import is applied as a single change, so an error leaves the image as it was.
func (i *Image) AddFS(fsys fs.FS, opts FSOptions) error {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Prefix == "" {
		opts.Prefix = "/"
	}
	if opts.JolietPrefix == "" {
		opts.JolietPrefix = "/"
	}

	return i.mutate("add-fs", func(st *state, c *change) error {
		isoPaths := map[string]string{opts.Dir: opts.Prefix}
		jolietPaths := map[string]string{opts.Dir: opts.JolietPrefix}

		return fs.WalkDir(fsys, opts.Dir, func(source string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if source == opts.Dir {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return fmt.Errorf("could not stat '%s': %w", source, err)
			}

			kind := tree.KindFile
			switch {
			case entry.IsDir():
				kind = tree.KindDirectory
			case entry.Type()&fs.ModeSymlink != 0:
				kind = tree.KindSymlink
			case !entry.Type().IsRegular():
				st.log.WithField("path", source).Debug("Skipping special file")
				return nil
			}

			var target string
			if kind == tree.KindSymlink {
				links, ok := fsys.(readLinkFS)
				if !ok || st.opts.RockRidge == "" {
					st.log.WithField("path", source).Debug("Skipping symbolic link")
					return nil
				}

				if target, err = links.ReadLink(source); err != nil {
					return fmt.Errorf("could not read link '%s': %w", source, err)
				}
			}

			parent := path.Dir(source)
			isoPath, err := st.freePath(c.tree, isoPaths[parent], entry.Name(), kind == tree.KindDirectory)
			if err != nil {
				return fmt.Errorf("could not import '%s': %w", source, err)
			}

			addOpts := AddOptions{Modified: info.ModTime(), UID: opts.UID, GID: opts.GID}
			if st.opts.RockRidge != "" {
				addOpts.RockRidgeName = entry.Name()
			}
			if st.opts.Joliet {
				addOpts.JolietPath = path.Join(jolietPaths[parent], entry.Name())
			}
			if opts.PreserveModes {
				addOpts.Mode = posixMode(info.Mode())
			}

			node := tree.Node{Kind: kind, Content: tree.NoContent, Recorded: info.ModTime()}
			if kind == tree.KindFile {
				node.Content = c.tree.AddContent(&tree.Content{Length: info.Size(), Open: FromFS(fsys, source)})
			}

			if err := st.addEntry(c, isoPath, node, addOpts, target); err != nil {
				return fmt.Errorf("could not import '%s': %w", source, err)
			}

			st.log.WithFields(logrus.Fields{
				"source": source,
				"path":   isoPath,
			}).Trace("Imported entry")

			if kind == tree.KindDirectory {
				isoPaths[source] = isoPath
				jolietPaths[source] = addOpts.JolietPath
			}

			return nil
		})
	})
}

// freePath picks the primary namespace path for a source name: its mangled identifier, or a numbered variant of it
// when another entry of the directory already has that identifier
func (st *state) freePath(t *tree.Tree, dir, name string, directory bool) (string, error) {
	identifier := encode.MangleName(name, st.opts.InterchangeLevel, directory)

	for attempt := 0; attempt < maxMangleAttempts; attempt++ {
		candidate := identifier
		if attempt > 0 {
			candidate = numberIdentifier(identifier, attempt, directory)
		}

		p := path.Join(dir, candidate)
		if _, err := t.Lookup(tree.Primary, p); errors.Is(err, tree.ErrNotFound) {
			return p, nil
		} else if err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w: no free identifier for '%s' in '%s'", ErrDuplicateEntry, name, dir)
}

// numberIdentifier replaces the end of an identifier's name part with a number, keeping its length, extension and
// version
func numberIdentifier(identifier string, n int, directory bool) string {
	name, suffix := identifier, ""
	if index := strings.LastIndex(name, ";"); index != -1 {
		name, suffix = name[:index], name[index:]
	}
	if !directory {
		if index := strings.LastIndex(name, "."); index != -1 {
			name, suffix = name[:index], name[index:]+suffix
		}
	}

	number := strconv.Itoa(n)
	keep := max(len(name)-len(number), 0)

	return name[:keep] + number + suffix
}

// posixMode converts a Go file mode to a POSIX mode with file type bits
func posixMode(mode fs.FileMode) uint32 {
	posix := uint32(mode.Perm())

	switch {
	case mode.IsDir():
		posix |= 0o040000
	case mode&fs.ModeSymlink != 0:
		posix |= 0o120000
	default:
		posix |= 0o100000
	}

	if mode&fs.ModeSetuid != 0 {
		posix |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		posix |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		posix |= 0o1000
	}

	return posix
}
