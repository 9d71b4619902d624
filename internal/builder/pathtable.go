package builder

import (
	"github.com/davejbax/go-isofs/internal/spec"
	"iter"
)

type PathTable struct {
	plan      *Plan
	hierarchy *Hierarchy
}

func NewPathTable(plan *Plan, hierarchy *Hierarchy) *PathTable {
	return &PathTable{plan: plan, hierarchy: hierarchy}
}

func (p *PathTable) Records() iter.Seq[*spec.PathTableRecord] {
	return func(yield func(*spec.PathTableRecord) bool) {
		// Path table needs to be in breadth-first search order, because ECMA-119 requires that records are ordered by
		// level in the directory hierarchy first and foremost, and secondly by directory identifiers. The directories
		// of a hierarchy are already in this order.
		for _, dir := range p.hierarchy.Directories {
			identifier, err := p.plan.identifier(dir.Node)
			if err != nil {
				// Identifiers were validated when the plan was made
				panic("unexpected path table failure: directory identifier could not be encoded: " + err.Error())
			}

			record := &spec.PathTableRecord{
				LengthOfDirectoryIdentifier:   uint8(len(identifier)),
				ExtendedAttributeRecordLength: 0,
				LocationOfExtent:              dir.Location,
				ParentDirectoryNumber:         uint16(dir.Parent),
				DirectoryIdentifier:           identifier,
			}

			if !yield(record) {
				break
			}
		}
	}
}

func (p *PathTable) Size() uint32 {
	total := uint32(0)

	for record := range p.Records() {
		total += uint32(record.Size())
	}

	return total
}

func (p *PathTable) MPathTable() spec.MPathTable {
	return spec.MPathTable(p.Records())
}

func (p *PathTable) LPathTable() spec.LPathTable {
	return spec.LPathTable(p.Records())
}
