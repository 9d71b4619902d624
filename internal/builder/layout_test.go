package builder_test

import (
	"fmt"
	"github.com/davejbax/go-isofs/internal/builder"
	"github.com/davejbax/go-isofs/internal/rockridge"
	"github.com/davejbax/go-isofs/internal/spec"
	"github.com/davejbax/go-isofs/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func insertFile(t *testing.T, tr *tree.Tree, ns tree.Namespace, path string, length int64) (tree.NodeID, tree.ContentID) {
	content := tr.AddContent(&tree.Content{Length: length})
	id, err := tr.Insert(ns, path, tree.Node{Kind: tree.KindFile, Content: content, Recorded: testTime})
	require.NoError(t, err, "Insert should accept file %s", path)

	return id, content
}

func insertDirectory(t *testing.T, tr *tree.Tree, ns tree.Namespace, path string) tree.NodeID {
	id, err := tr.Insert(ns, path, tree.Node{Kind: tree.KindDirectory, Recorded: testTime})
	require.NoError(t, err, "Insert should accept directory %s", path)

	return id
}

func TestNewPlan_Empty(t *testing.T) {
	tr := tree.New(1, testTime)

	plan, err := builder.NewPlan(tr, builder.Config{Level: 1, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should lay out an empty tree")

	assert.EqualValues(t, 16, plan.PrimaryVolumeDescriptor, "The primary volume descriptor should follow the system area")
	assert.EqualValues(t, 17, plan.Terminator, "The terminator should follow the primary volume descriptor")
	assert.EqualValues(t, 18, plan.VersionDescriptor, "The version descriptor block should follow the terminator")
	assert.EqualValues(t, 10, plan.Primary.PathTableSize, "The path table of an empty tree should hold only the root")
	assert.EqualValues(t, 19, plan.Primary.LPathTable, "The L path table should follow the version descriptor block")
	assert.EqualValues(t, 21, plan.Primary.MPathTable, "The M path table should follow the L path table and its reserved space")
	assert.Len(t, plan.Primary.Directories, 1, "An empty tree should have only a root directory")
	assert.EqualValues(t, 23, plan.Primary.Directories[0].Location, "The root directory should follow the path tables")
	assert.EqualValues(t, 24, plan.Size, "An empty image should be 24 blocks")
	assert.Nil(t, plan.Joliet, "No Joliet hierarchy should be planned unless requested")
}

func TestNewPlan_PathTableBoundary(t *testing.T) {
	tests := []struct {
		directories   int
		pathTableSize uint32
		mPathTable    uint32
		root          uint32
		size          uint32
	}{
		{directories: 293, pathTableSize: 4094, mPathTable: 21, root: 23, size: 322},
		{directories: 295, pathTableSize: 4122, mPathTable: 23, root: 27, size: 328},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d directories", tt.directories), func(t *testing.T) {
			t.Parallel()

			tr := tree.New(1, testTime)
			for i := 1; i <= tt.directories; i++ {
				insertDirectory(t, tr, tree.Primary, fmt.Sprintf("/DIR%d", i))
			}

			plan, err := builder.NewPlan(tr, builder.Config{Level: 1, BootCatalog: tree.NoContent})
			require.NoError(t, err, "NewPlan should succeed")

			assert.Equal(t, tt.pathTableSize, plan.Primary.PathTableSize, "Path table size should be the sum of its records")
			assert.EqualValues(t, 19, plan.Primary.LPathTable, "L path table location should not depend on its size")
			assert.Equal(t, tt.mPathTable, plan.Primary.MPathTable, "M path table location should account for the size of the L path table")
			assert.Equal(t, tt.root, plan.Primary.Directories[0].Location, "Root directory should follow the path tables")
			assert.EqualValues(t, 6*spec.LogicalSectorSize, plan.Primary.Directories[0].Size, "Root directory should span six blocks")
			assert.Equal(t, tt.size, plan.Size, "Image size should include every directory")
		})
	}
}

func TestNewPlan_ElTorito(t *testing.T) {
	tr := tree.New(1, testTime)
	_, catalog := insertFile(t, tr, tree.Primary, "/BOOT.CAT;1", spec.LogicalSectorSize)
	_, image := insertFile(t, tr, tree.Primary, "/BOOT.;1", 80)

	plan, err := builder.NewPlan(tr, builder.Config{Level: 1, BootCatalog: catalog, BootImages: []tree.ContentID{image}})
	require.NoError(t, err, "NewPlan should lay out a bootable tree")

	assert.EqualValues(t, 17, plan.BootRecord, "The boot record should follow the primary volume descriptor")
	assert.EqualValues(t, 18, plan.Terminator, "The terminator should follow the boot record")
	assert.EqualValues(t, 20, plan.Primary.LPathTable, "L path table should follow the version descriptor block")
	assert.EqualValues(t, 22, plan.Primary.MPathTable, "M path table should follow the L path table")
	assert.EqualValues(t, 24, plan.Primary.Directories[0].Location, "Root directory should follow the path tables")
	assert.EqualValues(t, 25, plan.BootCatalog, "The boot catalog should follow the directories")
	assert.Equal(t, []uint32{26}, plan.BootImages, "The boot image should follow the boot catalog")
	assert.EqualValues(t, 27, plan.Size, "The boot image content should not be allocated twice")

	location, ok := plan.ContentLocation(catalog)
	assert.True(t, ok, "The boot catalog content should have a location")
	assert.EqualValues(t, 25, location, "The boot catalog content should be the boot catalog itself")
}

func TestNewPlan_Level4MultiBoot(t *testing.T) {
	tr := tree.New(4, testTime)
	_, catalog := insertFile(t, tr, tree.Primary, "/boot.cat", spec.LogicalSectorSize)
	_, image := insertFile(t, tr, tree.Primary, "/boot", 80)
	_, image2 := insertFile(t, tr, tree.Primary, "/boot2", 80)

	plan, err := builder.NewPlan(tr, builder.Config{Level: 4, BootCatalog: catalog, BootImages: []tree.ContentID{image, image2}})
	require.NoError(t, err, "NewPlan should lay out a level 4 bootable tree")

	assert.EqualValues(t, 17, plan.BootRecord, "The boot record should follow the primary volume descriptor")
	assert.EqualValues(t, 18, plan.EnhancedVolumeDescriptor, "The enhanced volume descriptor should follow the boot record")
	assert.EqualValues(t, 19, plan.Terminator, "The terminator should follow the enhanced volume descriptor")
	assert.EqualValues(t, 21, plan.Primary.LPathTable, "L path table should follow the version descriptor block")
	assert.EqualValues(t, 23, plan.Primary.MPathTable, "M path table should follow the L path table")
	assert.EqualValues(t, 25, plan.Primary.Directories[0].Location, "Root directory should follow the path tables")
	assert.EqualValues(t, 26, plan.BootCatalog, "The boot catalog should follow the directories")
	assert.Equal(t, []uint32{27, 28}, plan.BootImages, "Boot images should be allocated in catalog order")
	assert.EqualValues(t, 29, plan.Size, "Image size should count each boot image once")

	var names []string
	for _, record := range plan.Primary.Directories[0].Records[2:] {
		names = append(names, string(record.Identifier))
	}
	assert.Equal(t, []string{"boot", "boot.cat", "boot2"}, names, "Records should be sorted by identifier")
}

func TestNewPlan_Joliet(t *testing.T) {
	tr := tree.New(1, testTime)
	_, content := insertFile(t, tr, tree.Primary, "/FOO.;1", 5)
	_, err := tr.Insert(tree.Joliet, "/foo", tree.Node{Kind: tree.KindFile, Content: content})
	require.NoError(t, err, "Insert should bind the same content in the Joliet namespace")

	plan, err := builder.NewPlan(tr, builder.Config{Level: 1, Joliet: true, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should lay out a Joliet tree")

	assert.EqualValues(t, 17, plan.JolietVolumeDescriptor, "The Joliet volume descriptor should follow the primary volume descriptor")
	assert.EqualValues(t, 18, plan.Terminator, "The terminator should follow the Joliet volume descriptor")
	assert.EqualValues(t, 20, plan.Primary.LPathTable, "Primary path tables should come first")
	assert.EqualValues(t, 24, plan.Joliet.LPathTable, "Joliet path tables should follow the primary path tables")
	assert.EqualValues(t, 28, plan.Primary.Directories[0].Location, "Primary directories should follow every path table")
	assert.EqualValues(t, 29, plan.Joliet.Directories[0].Location, "Joliet directories should follow the primary directories")
	assert.EqualValues(t, 31, plan.Size, "Content shared between namespaces should be allocated once")

	assert.Equal(t, []byte{0, 'f', 0, 'o', 0, 'o'}, []byte(plan.Joliet.Directories[0].Records[2].Identifier), "Joliet identifiers should be UCS-2 without a version")
	assert.Equal(t, []tree.Namespace{tree.Primary, tree.Joliet}, plan.Namespaces(), "Both namespaces should be recorded")
}

func TestNewPlan_ZeroLengthAndMultiExtent(t *testing.T) {
	tr := tree.New(3, testTime)
	empty, _ := insertFile(t, tr, tree.Primary, "/A.;1", 0)
	big, _ := insertFile(t, tr, tree.Primary, "/B.;1", spec.MaxExtentLength+1)
	after, _ := insertFile(t, tr, tree.Primary, "/C.;1", 1)

	plan, err := builder.NewPlan(tr, builder.Config{Level: 3, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should lay out a multi-extent file")

	emptyLocation, emptyLength := plan.Extent(empty, 0)
	first, firstLength := plan.Extent(big, 0)
	second, secondLength := plan.Extent(big, 1)
	last, _ := plan.Extent(after, 0)

	assert.Zero(t, emptyLength, "An empty file should have a zero data length")
	assert.Equal(t, first, emptyLocation, "An empty file should record the next free block without consuming it")
	assert.EqualValues(t, spec.MaxExtentLength, firstLength, "The first part should be as long as an extent can be")
	assert.EqualValues(t, 1, secondLength, "The last part should hold the remainder")
	assert.Equal(t, first+spec.MaxExtentLength/spec.LogicalSectorSize, second, "Parts should be contiguous")
	assert.Equal(t, second+1, last, "The next file should follow the last part")

	records := plan.Primary.Directories[0].Records
	require.Len(t, records, 6, "The multi-extent file should have one record per part")
	assert.Equal(t, 2, records[3].Parts, "Both parts should know the number of parts")
	assert.Equal(t, 1, records[4].Part, "Parts should be numbered in order")
}

func TestNewPlan_RecordsDoNotStraddleSectors(t *testing.T) {
	tr := tree.New(2, testTime)
	for i := range 200 {
		insertFile(t, tr, tree.Primary, fmt.Sprintf("/FILE_WITH_A_LONG_NAME_%03d.TXT;1", i), 1)
	}

	plan, err := builder.NewPlan(tr, builder.Config{Level: 2, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should succeed")

	root := plan.Primary.Directories[0]
	assert.Greater(t, root.Size, uint32(spec.LogicalSectorSize), "Root directory should span several sectors")

	for _, record := range root.Records {
		start, end := record.Offset/spec.LogicalSectorSize, (record.Offset+record.Length-1)/spec.LogicalSectorSize
		assert.Equal(t, start, end, "Record %s should be contained in a single sector", record.Identifier)
	}
}

func TestNewPlan_RockRidgeContinuations(t *testing.T) {
	tests := []struct {
		files  int
		blocks uint32
	}{
		{files: 0, blocks: 0},
		{files: 13, blocks: 1},
		{files: 14, blocks: 2},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d long names", tt.files), func(t *testing.T) {
			t.Parallel()

			tr := tree.New(1, testTime)
			for i := range tt.files {
				content := tr.AddContent(&tree.Content{Length: 1})
				_, err := tr.Insert(tree.Primary, fmt.Sprintf("/AAAAAAA%c.;1", 'A'+i), tree.Node{
					Kind:      tree.KindFile,
					Content:   content,
					RockRidge: &tree.RockRidge{Name: strings.Repeat("a", 254) + string(rune('a'+i))},
				})
				require.NoError(t, err, "Insert should accept a file with a long Rock Ridge name")
			}

			plan, err := builder.NewPlan(tr, builder.Config{Level: 1, RockRidge: rockridge.Version109, BootCatalog: tree.NoContent})
			require.NoError(t, err, "NewPlan should lay out Rock Ridge records")

			assert.Equal(t, tt.blocks, plan.ContinuationBlocks, "Continuation areas should be packed without crossing a block")

			root := plan.Primary.Directories[0]
			extensions, ok := root.DotContinuation()
			require.True(t, ok, "The root '.' record should have a continuation area")
			assert.Equal(t, root.Location+root.Size/spec.LogicalSectorSize, extensions, "The extension reference should follow the root directory")
			if tt.blocks > 0 {
				assert.Equal(t, extensions+1, plan.ContinuationStart, "Continuation blocks should follow the directories")
			}

			for _, record := range plan.Primary.Directories[0].Records {
				if record.Kind == rockridge.RecordDot {
					assert.Equal(t, 136, record.Length, "The root '.' record should carry SP, RR, CE, PX and TF")
				}
				if record.Kind == rockridge.RecordEntry {
					assert.Equal(t, 254, record.Length, "Records with long names should be filled up to the maximum")
				}
			}
		})
	}
}

func TestNewPlan_RockRidgeRecordLengths(t *testing.T) {
	tr := tree.New(1, testTime)
	content := tr.AddContent(&tree.Content{Length: 3})
	_, err := tr.Insert(tree.Primary, "/FOO.;1", tree.Node{Kind: tree.KindFile, Content: content, RockRidge: &tree.RockRidge{Name: "foo"}})
	require.NoError(t, err, "Insert should accept FOO.;1")
	_, err = tr.Insert(tree.Primary, "/DIR1", tree.Node{Kind: tree.KindDirectory, RockRidge: &tree.RockRidge{Name: "dir1"}})
	require.NoError(t, err, "Insert should accept DIR1")

	plan, err := builder.NewPlan(tr, builder.Config{Level: 1, RockRidge: rockridge.Version109, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should succeed")

	lengths := map[string]int{}
	for _, record := range plan.Primary.Directories[0].Records[2:] {
		lengths[string(record.Identifier)] = record.Length
	}

	assert.Equal(t, map[string]int{"DIR1": 114, "FOO.;1": 116}, lengths, "Record lengths should include the Rock Ridge entries and names")
	assert.Equal(t, 102, plan.Primary.Directories[1].Records[0].Length, "A '.' record outside the root should carry PX and TF only")
	assert.Equal(t, 102, plan.Primary.Directories[1].Records[1].Length, "A '..' record should carry PX and TF only")
}

func TestNewPlan_Idempotent(t *testing.T) {
	tr := buildTestTree(t)
	config := builder.Config{Level: 2, RockRidge: rockridge.Version112, XA: true, DuplicatePVD: true, BootCatalog: tree.NoContent}

	first, err := builder.NewPlan(tr, config)
	require.NoError(t, err, "NewPlan should succeed")

	second, err := builder.NewPlan(tr, config)
	require.NoError(t, err, "NewPlan should succeed a second time")

	assert.Equal(t, first, second, "Planning the same tree twice should give identical layouts")
	assert.EqualValues(t, 17, first.DuplicateVolumeDescriptor, "The duplicate primary volume descriptor should follow the primary")
}

func TestNewPlan_RockRidgeContinuationPlacement(t *testing.T) {
	for _, joliet := range []bool{false, true} {
		t.Run(fmt.Sprintf("joliet %t", joliet), func(t *testing.T) {
			t.Parallel()

			tr := tree.New(1, testTime)
			content := tr.AddContent(&tree.Content{Length: 3})
			name := strings.Repeat("a", 255)
			file, err := tr.Insert(tree.Primary, "/AAAAAAAA.;1", tree.Node{Kind: tree.KindFile, Content: content, RockRidge: &tree.RockRidge{Name: name}})
			require.NoError(t, err, "Insert should accept a file with a long Rock Ridge name")
			if joliet {
				_, err = tr.Insert(tree.Joliet, "/"+name[:64], tree.Node{Kind: tree.KindFile, Content: content})
				require.NoError(t, err, "Insert should bind the content in the Joliet namespace")
			}

			plan, err := builder.NewPlan(tr, builder.Config{Level: 1, RockRidge: rockridge.Version109, Joliet: joliet, BootCatalog: tree.NoContent})
			require.NoError(t, err, "NewPlan should succeed")

			// Without Joliet: root 23, extension reference 24, continuation area 25, file 26. Joliet adds a volume
			// descriptor and two path tables before the root, and its root directory before the continuation area.
			offset, after := uint32(0), uint32(0)
			if joliet {
				offset, after = 5, 6
				assert.EqualValues(t, 30, plan.Joliet.Directories[0].Location, "The Joliet root should follow the extension reference")
			}

			root := plan.Primary.Directories[0]
			extensions, ok := root.DotContinuation()
			require.True(t, ok, "The root '.' record should have a continuation area")
			location, _ := plan.Extent(file, 0)

			assert.Equal(t, 23+offset, root.Location, "The root directory should follow the path tables")
			assert.Equal(t, 24+offset, extensions, "The extension reference should directly follow the root directory")
			assert.Equal(t, 25+after, plan.ContinuationStart, "The continuation area of the long name should follow every directory")
			assert.Equal(t, 26+after, location, "The file should follow the continuation area")
			assert.Equal(t, 27+after, plan.Size, "Image size should match")
		})
	}
}

func TestNewPlan_RockRidgeRelocation(t *testing.T) {
	tr := tree.New(1, testTime)
	tr.SetRelocation(true)

	var dirs []tree.NodeID
	p := ""
	for i := 1; i <= 8; i++ {
		p += fmt.Sprintf("/DIR%d", i)
		dirs = append(dirs, insertDirectory(t, tr, tree.Primary, p))
	}
	dir7, dir8 := dirs[6], dirs[7]

	plan, err := builder.NewPlan(tr, builder.Config{Level: 1, RockRidge: rockridge.Version109, BootCatalog: tree.NoContent})
	require.NoError(t, err, "NewPlan should relocate the deepest directory")

	assert.EqualValues(t, 122, plan.Primary.PathTableSize, "The path table should include the relocation directory")
	assert.EqualValues(t, 34, plan.Size, "Image size should match")

	var identifiers []string
	var parents []int
	for _, dir := range plan.Primary.Directories {
		identifiers = append(identifiers, plan.Path(dir.Node))
		parents = append(parents, dir.Parent)
	}
	assert.Equal(t, []string{"/", "/DIR1", "/RR_MOVED", "/DIR1/DIR2", "/RR_MOVED/DIR8", "/DIR1/DIR2/DIR3"}, identifiers[:6], "Directories should be numbered as recorded on the volume")
	assert.Equal(t, []int{1, 1, 1, 2, 3, 4, 6, 7, 8, 9}, parents, "Parent numbers should follow the relocation")

	parsed := func(dir *builder.Directory, record *builder.Record) (*spec.DirectoryRecord, *rockridge.Parsed) {
		dr, err := plan.DirectoryRecord(dir, record)
		require.NoError(t, err, "DirectoryRecord should succeed")
		rr, err := rockridge.Parse(dr.SystemUse, nil)
		require.NoError(t, err, "Parse should succeed")
		return dr, rr
	}

	moved, ok := plan.Directory(dir8)
	require.True(t, ok, "DIR8 should be laid out")
	parent, ok := plan.Directory(dir7)
	require.True(t, ok, "DIR7 should be laid out")

	require.Len(t, parent.Records, 3, "DIR7 should hold a placeholder for DIR8")
	placeholder := parent.Records[2]
	assert.True(t, placeholder.ChildLink, "The placeholder should link to DIR8")
	dr, rr := parsed(parent, placeholder)
	assert.Equal(t, "DIR8", string(dr.FileIdentifier), "The placeholder should keep the name of DIR8")
	assert.Zero(t, dr.Header.FileFlags, "The placeholder should not be flagged as a directory")
	assert.Equal(t, moved.Location, dr.Header.ExtentLocation.RealValue(), "The placeholder should point at DIR8")
	assert.True(t, rr.ChildLink, "The placeholder should carry a CL entry")
	assert.Equal(t, moved.Location, rr.Link, "The CL entry should point at DIR8")

	_, rr = parsed(moved, moved.Records[1])
	assert.True(t, rr.ParentLink, "The '..' record of DIR8 should carry a PL entry")
	assert.Equal(t, parent.Location, rr.Link, "The PL entry should point at DIR7")

	movedDirectory := plan.Primary.Directories[2]
	require.Len(t, movedDirectory.Records, 3, "The relocation directory should hold DIR8")
	dr, rr = parsed(movedDirectory, movedDirectory.Records[2])
	assert.Equal(t, spec.FileFlagDirectory, dr.Header.FileFlags, "DIR8 should be flagged as a directory in the relocation directory")
	assert.True(t, rr.Relocated, "DIR8 should carry an RE entry in the relocation directory")

	root := plan.Primary.Directories[0]
	_, rr = parsed(root, root.Records[0])
	assert.EqualValues(t, 4, rr.Links, "The root should count DIR1 and the relocation directory")
	_, rr = parsed(parent, parent.Records[0])
	assert.EqualValues(t, 3, rr.Links, "DIR7 should count its relocated subdirectory")
}
