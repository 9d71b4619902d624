package iso9660

import (
	"bytes"
	"io"
	"io/fs"
	"os"
)

// DataSource opens the data of a file. It is called every time the data is needed, which is once when the image is
// written and once more for boot images with a boot info table; the returned reader is always closed.
type DataSource func() (io.ReadCloser, error)

// FromBytes returns a data source for an in-memory buffer
func FromBytes(data []byte) DataSource {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// FromReaderAt returns a data source for length bytes of r starting at offset
func FromReaderAt(r io.ReaderAt, offset, length int64) DataSource {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(io.NewSectionReader(r, offset, length)), nil
	}
}

// FromFile returns a data source for a file on the host filesystem
func FromFile(name string) DataSource {
	return func() (io.ReadCloser, error) {
		return os.Open(name)
	}
}

// FromFS returns a data source for a file in a filesystem
func FromFS(fsys fs.FS, name string) DataSource {
	return func() (io.ReadCloser, error) {
		return fsys.Open(name)
	}
}
