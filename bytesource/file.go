package bytesource

import (
	"bytes"
	"os"
	"path/filepath"
)

type fileBackend struct {
	f *os.File
}

func (b *fileBackend) ReadAt(p []byte, off int64) (int, error) { return b.f.ReadAt(p, off) }
func (b *fileBackend) Close() error                              { return b.f.Close() }

func (b *fileBackend) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// OpenFile opens a local file as a ByteSource.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return New(path, &fileBackend{f: f}, opts...), nil
}

type bytesBackend struct {
	*bytes.Reader
}

func (b bytesBackend) Size() (int64, error) { return b.Reader.Size(), nil }
func (b bytesBackend) Close() error         { return nil }

// FromBytes returns a ByteSource reading data.
func FromBytes(name string, data []byte, opts ...Option) *Reader {
	return New(name, bytesBackend{bytes.NewReader(data)}, opts...)
}
