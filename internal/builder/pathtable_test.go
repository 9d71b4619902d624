package builder_test

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/davejbax/go-isofs/internal/builder"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"slices"
	"strings"
	"testing"
	"time"
)

func buildTestTree(t *testing.T) *tree.Tree {
	tr := tree.New(2, time.Now())

	entries := []struct {
		path string
		kind tree.Kind
	}{
		{"/APPLE", tree.KindDirectory},
		{"/APPLE/MELON", tree.KindDirectory},
		{"/APPLE/MELON/BANANA", tree.KindDirectory},
		{"/APPLE/MELON/PINEAPPLE", tree.KindDirectory},
		{"/APPLE/MELON/PINEAPPLE/BBBBBBBB.TXT;1", tree.KindFile},
		{"/APPLE/ZZZZ.TXT;1", tree.KindFile},
		{"/BANANA", tree.KindDirectory},
		{"/BANANA/1234", tree.KindDirectory},
		{"/BANANA/APPLE", tree.KindDirectory},
		{"/BANANA/PINEAPPLE", tree.KindDirectory},
		{"/BANANA/A.DAT;1", tree.KindFile},
		{"/AARDVARK.MP3;1", tree.KindFile},
	}

	for _, e := range entries {
		node := tree.Node{Kind: e.kind, Content: tree.NoContent}
		if e.kind == tree.KindFile {
			node.Content = tr.AddContent(&tree.Content{Length: 3})
		}

		_, err := tr.Insert(tree.Primary, e.path, node)
		require.NoError(t, err, "Insert should accept %s", e.path)
	}

	return tr
}

func TestPathTable_Records(t *testing.T) {
	tr := buildTestTree(t)

	plan, err := builder.NewPlan(tr, builder.Config{Level: 2, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should succeed for a valid tree")

	table := builder.NewPathTable(plan, plan.Primary)
	require.NotNil(t, table, "Path table returned by NewPathTable should not be nil")

	records := slices.Collect(table.Records())

	assert.Equal(t, 9, len(records), "Records() should return number of records equal to number of directories in test data")

	assert.EqualValues(t, []byte{0x00}, records[0].DirectoryIdentifier, "Root directory should be first entry in path table (ordering requirement: ordered by level in hierarchy)")
	assert.EqualValues(t, 1, records[0].ParentDirectoryNumber, "Root directory should be parented to itself in the path table")

	prevParentNumber := records[0].ParentDirectoryNumber
	prevDirectoryIdentifier := records[0].DirectoryIdentifier

	checkedDirectoryIdentifierCount := 0
	orderingErrors := []error{}

	for _, record := range records[1:] {
		checkedDirectoryIdentifier, err := checkRecordOrdering(&prevParentNumber, &prevDirectoryIdentifier, record)
		if err != nil {
			orderingErrors = append(orderingErrors, err)
		}

		if checkedDirectoryIdentifier {
			checkedDirectoryIdentifierCount += 1
		}
	}

	assert.Empty(t, orderingErrors, "Records should meet ordering criteria")
	assert.Equal(t, 5, checkedDirectoryIdentifierCount, "Record ordering check should fall through to directory identifier ordering criteria correct number of times")

	for _, record := range records {
		assert.NotZero(t, record.LocationOfExtent, "Every path table record should point at an allocated directory")
	}

	assert.Equal(t, plan.Primary.PathTableSize, table.Size(), "Path table size should match the size used for layout")
}

func TestPathTable_Encoding(t *testing.T) {
	tr := tree.New(1, time.Now())
	_, err := tr.Insert(tree.Primary, "/DIR", tree.Node{Kind: tree.KindDirectory})
	require.NoError(t, err, "Insert should accept a valid directory")

	plan, err := builder.NewPlan(tr, builder.Config{Level: 1, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should succeed")

	table := builder.NewPathTable(plan, plan.Primary)

	var l, m bytes.Buffer
	_, err = table.LPathTable().WriteTo(&l)
	require.NoError(t, err, "Writing the L path table should succeed")
	_, err = table.MPathTable().WriteTo(&m)
	require.NoError(t, err, "Writing the M path table should succeed")

	assert.Equal(t, []byte{1, 0, 23, 0, 0, 0, 1, 0, 0, 0}, l.Bytes()[:10], "The L path table should start with the root, little-endian")
	assert.Equal(t, []byte{3, 0, 0, 0, 0, 24, 0, 1, 'D', 'I', 'R', 0}, m.Bytes()[10:], "The M path table should record DIR big-endian, padded to an even length")

	records, err := spec.UnpackPathTable(m.Bytes(), true)
	require.NoError(t, err, "UnpackPathTable should decode an M path table")
	assert.Len(t, records, 2, "UnpackPathTable should return every record")
	assert.EqualValues(t, 24, records[1].LocationOfExtent, "UnpackPathTable should decode big-endian locations")
}

var errRecordOrderingParentNumberViolated = errors.New("records are not in ascending order by parent record number")
var errRecordOrderingDirectoryIdentifierViolated = errors.New("records are not in ascending order by directory identifier")

// Checks whether a path table record is in the order expected by ECMA-119.
// Returns (directory identifiers compared, ordering error)
func checkRecordOrdering(prevParentNumber *uint16, prevDirectoryIdentifier *spec.FileIdentifier, current *spec.PathTableRecord) (bool, error) {
	defer func() {
		*prevParentNumber = current.ParentDirectoryNumber
		*prevDirectoryIdentifier = current.DirectoryIdentifier
	}()

	// Ordering requirement #2: parent directory numbers must be ascending
	if current.ParentDirectoryNumber < *prevParentNumber {
		return false, fmt.Errorf("%w: previously-seen directory %s has a higher number (%d) than current directory %s (%d)",
			errRecordOrderingParentNumberViolated,
			string(*prevDirectoryIdentifier),
			*prevParentNumber,
			string(current.DirectoryIdentifier),
			current.ParentDirectoryNumber,
		)
	} else if current.ParentDirectoryNumber > *prevParentNumber {
		// This record has a different parent directory number, and therefore lower-precedence ordering rules
		// don't apply.
		return false, nil
	}

	currentDirectoryIdentifierPadded := current.DirectoryIdentifier
	prevDirectoryIdentifierPadded := *prevDirectoryIdentifier

	// The spec requires that we pad the shortest directory identifier with 0x20.
	// Bit of a lazy hack, but do this for both identifiers to avoid having to work out which is shorter!
	for len(currentDirectoryIdentifierPadded) < len(prevDirectoryIdentifierPadded) {
		currentDirectoryIdentifierPadded = append(currentDirectoryIdentifierPadded, 0x20) // Padding byte
	}

	for len(prevDirectoryIdentifierPadded) < len(currentDirectoryIdentifierPadded) {
		prevDirectoryIdentifierPadded = append(prevDirectoryIdentifierPadded, 0x20) // Padding byte
	}

	cmp := strings.Compare(string(prevDirectoryIdentifierPadded), string(currentDirectoryIdentifierPadded))

	// Ordering requirement #3: directory identifiers should be in ascending order
	// TODO: At some point, we'll have to defer to fileIdentifier to do this comparison, and not assume that the file
	// identifiers are Go-encoded strings. The spec tells us to compare characters, not bytes.
	if cmp > 0 {
		return true, errRecordOrderingDirectoryIdentifierViolated
	}

	return true, nil
}
