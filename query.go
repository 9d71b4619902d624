package iso9660

import (
	"bytes"
	"github.com/davejbax/go-isofs/internal/tree"
	"io"
	"time"
)

// FileInfo describes an entry of an image
type FileInfo struct {
	// Name is the identifier of the entry in its namespace, e.g. 'FOO.;1' or a Joliet name
	Name string
	Path string

	Size      int64
	IsDir     bool
	IsSymlink bool
	Hidden    bool
	Recorded  time.Time

	// Extent is the first block of the entry's data. Hard links share an extent.
	Extent uint32

	// RockRidge holds the POSIX attributes of primary namespace entries in Rock Ridge images
	RockRidge *RockRidgeInfo
}

// RockRidgeInfo holds Rock Ridge attributes
type RockRidgeInfo struct {
	Name   string
	Target string
	Mode   uint32
	Links  uint32
	UID    uint32
	GID    uint32

	Modified time.Time
	Accessed time.Time
	Changed  time.Time
}

// VolumeInfo describes an image as a whole
type VolumeInfo struct {
	// Options are the options the image was created with, or those detected when it was opened
	Options Options

	// Blocks is the size of the image in 2048-byte blocks
	Blocks uint32

	BootEntries []BootEntry
}

// Stat describes the entry picked by a selector
func (i *Image) Stat(sel Selector) (*FileInfo, error) {
	var info *FileInfo

	err := i.read(func(st *state) error {
		id, err := st.resolve(st.tree, sel)
		if err != nil {
			return err
		}

		info = st.fileInfo(id)

		return nil
	})

	return info, err
}

// ReadDir describes the entries of the directory picked by a selector, in directory record order
func (i *Image) ReadDir(sel Selector) ([]*FileInfo, error) {
	var infos []*FileInfo

	err := i.read(func(st *state) error {
		id, err := st.resolve(st.tree, sel)
		if err != nil {
			return err
		}

		node := st.tree.Node(id)
		if !node.IsDir() {
			return tree.ErrNotDirectory
		}

		for _, child := range node.Children {
			infos = append(infos, st.fileInfo(child))
		}

		return nil
	})

	return infos, err
}

// FileReader opens the data of the file picked by a selector. The returned reader must be closed.
func (i *Image) FileReader(sel Selector) (io.ReadCloser, error) {
	var reader io.ReadCloser

	err := i.read(func(st *state) error {
		content, err := st.resolveContent(st.tree, st.boot, sel)
		if err != nil {
			return err
		}

		reader, err = st.openContent(content)
		return err
	})

	return reader, err
}

// Info describes the image
func (i *Image) Info() (*VolumeInfo, error) {
	var info *VolumeInfo

	err := i.read(func(st *state) error {
		info = &VolumeInfo{
			Options:     st.opts,
			Blocks:      st.plan.Size,
			BootEntries: st.bootEntries(),
		}

		return nil
	})

	return info, err
}

func (st *state) fileInfo(id tree.NodeID) *FileInfo {
	node := st.tree.Node(id)
	location, _ := st.plan.Extent(id, 0)

	info := &FileInfo{
		Name:      node.Name,
		Path:      st.tree.Path(id),
		IsDir:     node.IsDir(),
		IsSymlink: node.Kind == tree.KindSymlink,
		Hidden:    node.Hidden,
		Recorded:  node.Recorded,
		Extent:    location,
	}

	if dir, ok := st.plan.Directory(id); ok {
		info.Size = int64(dir.Size)
	} else if content := st.tree.Content(node.Content); content != nil {
		info.Size = content.Length
	}

	if rr := node.RockRidge; rr != nil && node.Namespace == tree.Primary {
		info.RockRidge = &RockRidgeInfo{
			Name:     rr.Name,
			Target:   rr.Target,
			Mode:     rr.Mode,
			Links:    rr.Links,
			UID:      rr.UID,
			GID:      rr.GID,
			Modified: rr.Modified,
			Accessed: rr.Accessed,
			Changed:  rr.Changed,
		}
	}

	return info
}

// openContent opens the data of a content. The boot catalog is generated from the current layout.
func (st *state) openContent(id tree.ContentID) (io.ReadCloser, error) {
	content := st.tree.Content(id)

	if content.BootCatalog && st.boot != nil && id == st.boot.catalog {
		sector, err := st.boot.Encode(st.plan.BootImages)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(sector)), nil
	}

	if content.Open == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	return content.Open()
}
