package iso9660

import (
	"fmt"
	"github.com/davejbax/go-isofs/internal/builder"
	"github.com/davejbax/go-isofs/internal/eltorito"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/sirupsen/logrus"
	"io"
)

// WriteTo writes the image. File data is read from the data sources as it is written.
func (i *Image) WriteTo(w io.Writer) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == nil {
		return 0, ErrNotInitialized
	}

	bw := builder.NewBlockWriter(w)
	err := i.state.write(bw)

	return bw.BytesWritten(), err
}

func (st *state) write(bw *builder.BlockWriter) error {
	plan := st.plan

	systemArea := st.systemArea
	if systemArea == nil {
		systemArea = make([]byte, spec.SystemAreaSectors*spec.LogicalSectorSize)
	}
	if err := bw.WriteBlockFunc(0, writeBytes(systemArea)); err != nil {
		return fmt.Errorf("could not write system area: %w", err)
	}

	if err := st.writeDescriptors(bw); err != nil {
		return err
	}

	for _, ns := range plan.Namespaces() {
		h := plan.Hierarchy(ns)
		table := builder.NewPathTable(plan, h)

		if err := bw.WriteBlock(h.LPathTable, table.LPathTable()); err != nil {
			return fmt.Errorf("could not write %s L path table: %w", ns, err)
		}
		if err := bw.WriteBlock(h.MPathTable, table.MPathTable()); err != nil {
			return fmt.Errorf("could not write %s M path table: %w", ns, err)
		}
	}

	for _, ns := range plan.Namespaces() {
		for _, dir := range plan.Hierarchy(ns).Directories {
			if err := bw.WriteBlockFunc(dir.Location, func(w io.Writer) (int64, error) {
				return plan.WriteDirectory(w, dir)
			}); err != nil {
				return fmt.Errorf("could not write %s directory '%s': %w", ns, plan.Path(dir.Node), err)
			}

			if block, ok := dir.DotContinuation(); ok {
				if err := bw.WriteBlockFunc(block, func(w io.Writer) (int64, error) {
					return plan.WriteDotContinuation(w, dir)
				}); err != nil {
					return fmt.Errorf("could not write Rock Ridge continuation area of '%s': %w", plan.Path(dir.Node), err)
				}
			}
		}
	}

	if plan.ContinuationBlocks > 0 {
		if err := bw.WriteBlockFunc(plan.ContinuationStart, plan.WriteContinuations); err != nil {
			return fmt.Errorf("could not write Rock Ridge continuation areas: %w", err)
		}
	}

	patched := make(map[tree.ContentID]bool)
	if st.boot != nil {
		sector, err := st.boot.Encode(plan.BootImages)
		if err != nil {
			return fmt.Errorf("could not encode boot catalog: %w", err)
		}

		if err := bw.WriteBlockFunc(plan.BootCatalog, writeBytes(sector)); err != nil {
			return fmt.Errorf("could not write boot catalog: %w", err)
		}

		for n, entry := range st.boot.Entries {
			if entry.BootInfoTable {
				patched[st.boot.images[n]] = true
			}
		}
	}

	for _, extent := range plan.Contents() {
		content := st.tree.Content(extent.Content)
		if content.BootCatalog || content.Length == 0 {
			continue
		}

		writeTo := st.contentWriter(content)
		if patched[extent.Content] {
			writeTo = st.bootImageWriter(content, extent.Location)
		}

		if err := bw.WriteBlockFunc(extent.Location, writeTo); err != nil {
			return fmt.Errorf("could not write file data at block %d: %w", extent.Location, err)
		}

		st.log.WithFields(logrus.Fields{
			"block":  extent.Location,
			"length": content.Length,
		}).Trace("Wrote file data")
	}

	if err := bw.PadTo(plan.Size); err != nil {
		return fmt.Errorf("could not pad image: %w", err)
	}

	st.log.WithField("blocks", plan.Size).Debug("Wrote image")

	return nil
}

func (st *state) writeDescriptors(bw *builder.BlockWriter) error {
	plan := st.plan

	pvd, err := builder.NewPrimaryVolumeDescriptor(plan, st.ids)
	if err != nil {
		return err
	}

	if err := bw.WriteBlock(plan.PrimaryVolumeDescriptor, pvd); err != nil {
		return fmt.Errorf("could not write primary volume descriptor: %w", err)
	}

	if st.opts.DuplicatePVD {
		if err := bw.WriteBlock(plan.DuplicateVolumeDescriptor, pvd); err != nil {
			return fmt.Errorf("could not write duplicate primary volume descriptor: %w", err)
		}
	}

	if st.boot != nil {
		if err := bw.WriteBlock(plan.BootRecord, builder.NewBootRecordVolumeDescriptor(plan)); err != nil {
			return fmt.Errorf("could not write boot record: %w", err)
		}
	}

	if st.opts.InterchangeLevel == 4 {
		evd, err := builder.NewEnhancedVolumeDescriptor(plan, st.ids)
		if err != nil {
			return err
		}

		if err := bw.WriteBlock(plan.EnhancedVolumeDescriptor, evd); err != nil {
			return fmt.Errorf("could not write enhanced volume descriptor: %w", err)
		}
	}

	if st.opts.Joliet {
		svd, err := builder.NewJolietVolumeDescriptor(plan, st.ids)
		if err != nil {
			return err
		}

		if err := bw.WriteBlock(plan.JolietVolumeDescriptor, svd); err != nil {
			return fmt.Errorf("could not write Joliet volume descriptor: %w", err)
		}
	}

	if err := bw.WriteBlock(plan.Terminator, spec.TerminatorVolumeDescriptor); err != nil {
		return fmt.Errorf("could not write volume descriptor set terminator: %w", err)
	}

	return nil
}

func writeBytes(b []byte) func(io.Writer) (int64, error) {
	return func(w io.Writer) (int64, error) {
		n, err := w.Write(b)
		return int64(n), err
	}
}

// contentWriter copies the data of a content, failing if the source is shorter than the content's length
func (st *state) contentWriter(content *tree.Content) func(io.Writer) (int64, error) {
	return func(w io.Writer) (int64, error) {
		r, err := content.Open()
		if err != nil {
			return 0, fmt.Errorf("could not open data source: %w", err)
		}
		defer r.Close()

		return io.CopyN(w, r, content.Length)
	}
}

// bootImageWriter copies the data of a boot image with a boot info table patched into its first sector
func (st *state) bootImageWriter(content *tree.Content, location uint32) func(io.Writer) (int64, error) {
	return func(w io.Writer) (int64, error) {
		checksum, err := st.checksum(content)
		if err != nil {
			return 0, err
		}

		r, err := content.Open()
		if err != nil {
			return 0, fmt.Errorf("could not open boot image: %w", err)
		}
		defer r.Close()

		head := min(content.Length, spec.LogicalSectorSize)
		sector := make([]byte, spec.LogicalSectorSize)
		if _, err := io.ReadFull(r, sector[:head]); err != nil {
			return 0, fmt.Errorf("could not read boot image: %w", err)
		}

		table := eltorito.NewBootInfoTable(st.plan.PrimaryVolumeDescriptor, location, content.Length, checksum)
		if err := eltorito.Patch(sector, table); err != nil {
			return 0, err
		}

		// The table is written even when the image is shorter than the table; the rest of its block is padding
		n, err := w.Write(sector[:max(head, spec.BootInfoTableEnd)])
		if err != nil {
			return int64(n), err
		}

		rest, err := io.CopyN(w, r, content.Length-head)

		return int64(n) + rest, err
	}
}

func (st *state) checksum(content *tree.Content) (uint32, error) {
	r, err := content.Open()
	if err != nil {
		return 0, fmt.Errorf("could not open boot image: %w", err)
	}
	defer r.Close()

	checksum, err := eltorito.Checksum(io.LimitReader(r, content.Length))
	if err != nil {
		return 0, fmt.Errorf("could not checksum boot image: %w", err)
	}

	return checksum, nil
}
