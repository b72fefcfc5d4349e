package bytesource

import (
	"io"
	"os"
	"path/filepath"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"
)

// SeekableFrameSize is the uncompressed frame size used by WriteZstd. Each
// frame is compressed independently, so a random read decompresses at most
// the frames it overlaps.
const SeekableFrameSize = 64 << 10

// zstdDec is shared by all zstd backends; it is safe for concurrent use.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

type zstdBackend struct {
	f    *os.File
	r    seekable.Reader
	size int64
}

func (b *zstdBackend) ReadAt(p []byte, off int64) (int, error) { return b.r.ReadAt(p, off) }
func (b *zstdBackend) Size() (int64, error)                    { return b.size, nil }

func (b *zstdBackend) Close() error {
	err := b.r.Close()
	if cerr := b.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenZstd opens a file written in the seekable zstd format. Reads are
// served from the decompressed content.
func OpenZstd(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	r, err := seekable.NewReader(f, zstdDec)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		_ = r.Close()
		_ = f.Close()
		return nil, err
	}
	return New(path, &zstdBackend{f: f, r: r, size: size}, opts...), nil
}

// WriteZstd compresses src into dst in the seekable zstd format, one frame
// per SeekableFrameSize bytes of input.
func WriteZstd(dst io.Writer, src io.Reader) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer func() { _ = enc.Close() }()

	sw, err := seekable.NewWriter(dst, enc)
	if err != nil {
		return err
	}
	buf := make([]byte, SeekableFrameSize)
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := sw.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return sw.Close()
}
