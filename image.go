// Package iso9660 builds and reads ISO9660 images, with support for the Rock Ridge, Joliet and El Torito extensions.
//
// An [Image] holds a directory hierarchy in memory. Every change to the hierarchy recomputes the layout of the whole
// image, so the image can be written out at any point; writing an image, opening the result and writing it again
// gives identical bytes.
package iso9660

import (
	"github.com/davejbax/go-isofs/internal/builder"
	"github.com/davejbax/go-isofs/internal/eltorito"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/sirupsen/logrus"
	"io"
	"slices"
	"sync"
	"time"
)

// Image is an ISO9660 image. Images are created uninitialized by the zero value, and initialized with [Image.New] or
// [Image.Open]; [NewImage] and [OpenImage] do both at once.
//
// Queries may run concurrently with each other. Mutations and [Image.WriteTo] are serialized against everything else.
type Image struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	opts Options
	ids  *builder.Identifiers
	log  logrus.FieldLogger

	tree *tree.Tree
	boot *bootState
	plan *builder.Plan

	// systemArea holds the first 16 blocks of an opened image, which are written back verbatim
	systemArea []byte
}

// bootState is the El Torito configuration of an image: the boot catalog content and one boot image content for each
// catalog entry
type bootState struct {
	catalog tree.ContentID
	eltorito.Catalog
	images []tree.ContentID
}

func (b *bootState) clone() *bootState {
	if b == nil {
		return nil
	}

	clone := *b
	clone.Entries = slices.Clone(b.Entries)
	clone.images = slices.Clone(b.images)

	return &clone
}

// change is the working copy of an image that a mutation operates on
type change struct {
	tree *tree.Tree
	boot *bootState
}

// NewImage creates an empty image
func NewImage(opts Options) (*Image, error) {
	image := &Image{}
	if err := image.New(opts); err != nil {
		return nil, err
	}

	return image, nil
}

// OpenImage reads an existing image of the given size
func OpenImage(r io.ReaderAt, size int64, opts ...OpenOption) (*Image, error) {
	image := &Image{}
	if err := image.Open(r, size, opts...); err != nil {
		return nil, err
	}

	return image, nil
}

// New initializes an empty image
func (i *Image) New(opts Options) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != nil {
		return ErrAlreadyInitialized
	}

	opts, err := opts.normalize()
	if err != nil {
		return err
	}

	st := &state{
		opts: opts,
		ids:  opts.identifiers(),
		log:  opts.Logger.WithField("component", "iso9660"),
		tree: tree.New(opts.InterchangeLevel, opts.Clock()),
	}
	st.tree.SetRelocation(opts.RockRidge != "")

	if st.plan, err = builder.NewPlan(st.tree, st.config(nil)); err != nil {
		return err
	}

	st.log.WithFields(logrus.Fields{
		"level":     opts.InterchangeLevel,
		"rockRidge": opts.RockRidge,
		"joliet":    opts.Joliet,
		"xa":        opts.XA,
	}).Debug("Initialized new image")

	i.state = st

	return nil
}

// Open initializes the image from an existing image of the given size. The reader must remain readable until the
// image is closed, as file data is read from it lazily.
func (i *Image) Open(r io.ReaderAt, size int64, opts ...OpenOption) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != nil {
		return ErrAlreadyInitialized
	}

	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger()
	}

	st, err := parse(r, size, options)
	if err != nil {
		return err
	}

	i.state = st

	return nil
}

// Close releases the image. Closing an image does not close the reader it was opened from.
func (i *Image) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == nil {
		return ErrNotInitialized
	}

	i.state = nil

	return nil
}

// config derives the layout configuration for the image with the given boot state
func (st *state) config(boot *bootState) builder.Config {
	config := builder.Config{
		Level:          st.opts.InterchangeLevel,
		RockRidge:      rockridge.Version(st.opts.RockRidge),
		Joliet:         st.opts.Joliet,
		XA:             st.opts.XA,
		DuplicatePVD:   st.opts.DuplicatePVD,
		SequenceNumber: st.opts.SequenceNumber,
		BootCatalog:    tree.NoContent,
	}

	if boot != nil {
		config.BootCatalog = boot.catalog
		config.BootImages = slices.Clone(boot.images)
	}

	return config
}

// read runs a query against the current state of the image
func (i *Image) read(fn func(st *state) error) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.state == nil {
		return ErrNotInitialized
	}

	return fn(i.state)
}

// mutate applies a change to a copy of the image and recomputes the layout. The image is only updated when both
// succeed, so a failed mutation leaves it as it was.
func (i *Image) mutate(operation string, fn func(st *state, c *change) error) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	st := i.state
	if st == nil {
		return ErrNotInitialized
	}

	c := &change{tree: st.tree.Clone(), boot: st.boot.clone()}
	if err := fn(st, c); err != nil {
		return err
	}

	plan, err := builder.NewPlan(c.tree, st.config(c.boot))
	if err != nil {
		return err
	}

	st.tree, st.boot, st.plan = c.tree, c.boot, plan

	st.log.WithFields(logrus.Fields{
		"operation": operation,
		"blocks":    plan.Size,
	}).Debug("Recomputed image layout")

	return nil
}
