package iso9660

import (
	"github.com/davejbax/go-isofs/internal/eltorito"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
)

// Default paths of the boot catalog
const (
	DefaultBootCatalogPath       = "/BOOT.CAT;1"
	DefaultJolietBootCatalogPath = "/boot.cat"
	DefaultRockRidgeCatalogName  = "boot.cat"
)

// maxBootEntries is the number of entries that fit in a one-sector catalog: the validation and initial entries take
// two slots, and every further entry takes a section header and an entry
const maxBootEntries = (spec.LogicalSectorSize/spec.BootCatalogEntrySize-2)/2 + 1

// ElToritoOptions describe a boot entry. The catalog fields apply to the first entry only, which creates the catalog.
type ElToritoOptions struct {
	// CatalogPath is the primary namespace path of the boot catalog. Defaults to [DefaultBootCatalogPath].
	CatalogPath string `yaml:"catalog_path"`

	// JolietCatalogPath is the Joliet path of the boot catalog. Defaults to [DefaultJolietBootCatalogPath] in images
	// with a Joliet namespace.
	JolietCatalogPath string `yaml:"joliet_catalog_path"`

	// CatalogRockRidgeName is the Rock Ridge name of the boot catalog. Defaults to [DefaultRockRidgeCatalogName].
	CatalogRockRidgeName string `yaml:"catalog_rock_ridge_name"`

	// IDString identifies the manufacturer in the validation entry
	IDString string `yaml:"id_string"`

	// Media is one of 'noemul', 'floppy1.2', 'floppy1.44', 'floppy2.88' or 'hdemul'. Empty means 'noemul'.
	Media string `yaml:"media"`

	Platform    uint8  `yaml:"platform"`
	LoadSegment uint16 `yaml:"load_segment"`

	// SectorCount is the number of 512-byte virtual sectors loaded at boot. Zero means 4 without emulation and 1
	// otherwise.
	SectorCount uint16 `yaml:"sector_count"`

	NotBootable   bool `yaml:"not_bootable"`
	BootInfoTable bool `yaml:"boot_info_table"`
}

// BootEntry describes an entry of the boot catalog
type BootEntry struct {
	// Path is the primary namespace path of the boot image, or empty if the image is not bound to a path
	Path string

	Media         string
	Platform      uint8
	LoadSegment   uint16
	SectorCount   uint16
	Bootable      bool
	BootInfoTable bool

	// Extent is the first block of the boot image
	Extent uint32
}

// AddElTorito makes the file at bootPath a boot image. The first call creates the boot catalog and its initial entry;
// later calls add a section for each further boot image.
func (i *Image) AddElTorito(bootPath string, opts ElToritoOptions) error {
	media, err := eltorito.ParseMediaType(opts.Media)
	if err != nil {
		return invalidArgument("%w", err)
	}

	return i.mutate("add-eltorito", func(st *state, c *change) error {
		id, err := c.tree.Lookup(tree.Primary, bootPath)
		if err != nil {
			return err
		}

		node := c.tree.Node(id)
		if node.Kind != tree.KindFile {
			return invalidArgument("boot image '%s' is not a file", bootPath)
		}

		content := c.tree.Content(node.Content)
		if content.Length == 0 {
			return invalidArgument("boot image '%s' is empty", bootPath)
		}
		if err := media.ValidateSize(content.Length); err != nil {
			return invalidArgument("boot image '%s': %w", bootPath, err)
		}

		if c.boot == nil {
			if err := st.addBootCatalog(c, opts); err != nil {
				return err
			}
		}

		if len(c.boot.Entries) >= maxBootEntries {
			return invalidArgument("%w: at most %d boot entries fit in the catalog", eltorito.ErrTooManyEntries, maxBootEntries)
		}

		c.boot.Entries = append(c.boot.Entries, eltorito.Entry{
			Bootable:      !opts.NotBootable,
			Media:         media,
			Platform:      opts.Platform,
			LoadSegment:   opts.LoadSegment,
			SectorCount:   opts.SectorCount,
			BootInfoTable: opts.BootInfoTable,
		})
		c.boot.images = append(c.boot.images, node.Content)

		return nil
	})
}

func (st *state) addBootCatalog(c *change, opts ElToritoOptions) error {
	if len(opts.IDString) > len(spec.ValidationEntry{}.IDString) {
		return invalidArgument("%w: '%s'", eltorito.ErrIDStringTooLong, opts.IDString)
	}

	catalog := c.tree.AddContent(&tree.Content{Length: spec.LogicalSectorSize, BootCatalog: true})
	c.boot = &bootState{
		catalog: catalog,
		Catalog: eltorito.Catalog{Platform: opts.Platform, IDString: opts.IDString},
	}

	now := st.opts.Clock()

	primaryPath := opts.CatalogPath
	if primaryPath == "" {
		primaryPath = DefaultBootCatalogPath
	}

	node := tree.Node{Kind: tree.KindFile, Content: catalog, Recorded: now}
	if st.opts.RockRidge != "" {
		name := opts.CatalogRockRidgeName
		if name == "" {
			name = DefaultRockRidgeCatalogName
		}
		node.RockRidge = &tree.RockRidge{Name: name}
	}

	if _, err := c.tree.Insert(tree.Primary, primaryPath, node); err != nil {
		return err
	}

	if st.opts.Joliet {
		jolietPath := opts.JolietCatalogPath
		if jolietPath == "" {
			jolietPath = DefaultJolietBootCatalogPath
		}

		if _, err := c.tree.Insert(tree.Joliet, jolietPath, tree.Node{Kind: tree.KindFile, Content: catalog, Recorded: now}); err != nil {
			return err
		}
	} else if opts.JolietCatalogPath != "" {
		return invalidArgument("the image has no Joliet namespace")
	}

	return nil
}

// RemoveElTorito removes the boot catalog and every boot entry. Boot images stay in the image as ordinary files.
func (i *Image) RemoveElTorito() error {
	return i.mutate("remove-eltorito", func(st *state, c *change) error {
		if c.boot == nil {
			return invalidArgument("the image has no El Torito boot catalog")
		}

		for _, id := range c.tree.Bindings(c.boot.catalog) {
			if err := c.tree.Remove(id); err != nil {
				return err
			}
		}

		c.boot = nil

		return nil
	})
}

// bootEntries describes the boot entries of the image
func (st *state) bootEntries() []BootEntry {
	if st.boot == nil {
		return nil
	}

	entries := make([]BootEntry, len(st.boot.Entries))
	for n, entry := range st.boot.Entries {
		sectorCount := entry.SectorCount
		if sectorCount == 0 {
			sectorCount = entry.Media.DefaultSectorCount()
		}

		entries[n] = BootEntry{
			Media:         entry.Media.String(),
			Platform:      entry.Platform,
			LoadSegment:   entry.LoadSegment,
			SectorCount:   sectorCount,
			Bootable:      entry.Bootable,
			BootInfoTable: entry.BootInfoTable,
			Extent:        st.plan.BootImages[n],
		}

		for _, id := range st.tree.Bindings(st.boot.images[n]) {
			if node := st.tree.Node(id); node.Namespace == tree.Primary {
				entries[n].Path = st.tree.Path(id)
				break
			}
		}
	}

	return entries
}
