// Package bytesource provides the random-access byte reader used by the
// ephemeris file parser.
//
// A Reader serves seek + typed primitive reads from a small block cache on
// top of a Backend. Backends differ a lot in cost and failure behaviour (a
// local file, an HTTP server answering range requests, a seekable zstd
// archive, an in-memory buffer), but the parser only ever sees the
// ByteSource interface.
//
// The byte order of a Reader is fixed at construction. It is independent of
// the byte order of the file being read; the parser detects the file's
// order and swaps on top of the primitive reads when needed.
package bytesource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
)

// DefaultBlockSize is the size of the read cache of a Reader.
const DefaultBlockSize = 4096

var (
	// ErrIO wraps every backend failure other than end of file.
	ErrIO = errors.New("bytesource: i/o error")

	// ErrNotFound is returned when a remote file does not exist.
	ErrNotFound = errors.New("bytesource: not found")

	// ErrClosed is returned by reads on a closed Reader.
	ErrClosed = errors.New("bytesource: source is closed")
)

// IsEOF reports whether err signals that a read ran past the end of the
// source, either completely (io.EOF) or partially (io.ErrUnexpectedEOF).
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ByteSource is a seekable reader of typed primitives.
type ByteSource interface {
	// Name identifies the source in diagnostics (path or URL).
	Name() string
	// Order is the byte order used for multi-byte primitive reads.
	Order() binary.ByteOrder
	// Seek moves the read position to the absolute offset pos.
	Seek(pos int64) error
	// Position returns the current read position.
	Position() int64
	// Length returns the total size of the source in bytes.
	Length() (int64, error)

	ReadUint8() (uint8, error)
	ReadInt8() (int8, error)
	ReadInt16() (int16, error)
	ReadInt32() (int32, error)
	ReadInt64() (int64, error)
	ReadFloat64() (float64, error)
	// ReadFull fills p completely or fails.
	ReadFull(p []byte) error
	// ReadLine reads up to max bytes, stopping after LF, CR or CR LF. The
	// terminator is not part of the result.
	ReadLine(max int) (string, error)

	// Close releases the backend. It is safe to call more than once.
	Close() error
}

// Backend is the storage a Reader reads from.
type Backend interface {
	io.ReaderAt
	io.Closer
	Size() (int64, error)
}

type options struct {
	order     binary.ByteOrder
	blockSize int
}

// Option configures a Reader.
type Option func(*options)

// WithOrder sets the byte order of primitive reads. The default is big endian.
func WithOrder(order binary.ByteOrder) Option {
	return func(o *options) {
		if order != nil {
			o.order = order
		}
	}
}

// WithBlockSize sets the size of the read cache.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// Reader implements ByteSource over a Backend.
//
// A Reader keeps mutable position state and is not safe for concurrent
// use; callers sharing one must serialize each seek+read sequence.
type Reader struct {
	name    string
	backend Backend
	order   binary.ByteOrder

	pos  int64
	size int64

	buf    []byte
	bufOff int64
	bufLen int

	scratch [8]byte

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

var _ ByteSource = (*Reader)(nil)

// New returns a Reader named name over backend.
func New(name string, backend Backend, opts ...Option) *Reader {
	o := options{order: binary.BigEndian, blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reader{
		name:    name,
		backend: backend,
		order:   o.order,
		size:    -1,
		buf:     make([]byte, o.blockSize),
	}
}

// Name returns the name the Reader was created with, usually the path or
// URL of its backend. It is only used to label diagnostics.
func (r *Reader) Name() string { return r.name }

// Order returns the byte order of the multi-byte primitive reads. It is
// fixed when the Reader is created.
func (r *Reader) Order() binary.ByteOrder { return r.order }

// Position returns the absolute offset the next read starts at. It moves
// with every read and with Seek.
func (r *Reader) Position() int64 { return r.pos }

// Seek moves the read position to the absolute offset pos. Seeking past the
// end is allowed and only fails on the next read; a negative offset is an
// ErrIO. The block cache is kept, so seeking back into it costs no backend
// read.
func (r *Reader) Seek(pos int64) error {
	if r.closed {
		return ErrClosed
	}
	if pos < 0 {
		return fmt.Errorf("%w: %s: negative offset %d", ErrIO, r.name, pos)
	}
	r.pos = pos
	return nil
}

// Length returns the size of the source in bytes. The backend is asked
// once, the answer is cached for the life of the Reader.
func (r *Reader) Length() (int64, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.size >= 0 {
		return r.size, nil
	}
	n, err := r.backend.Size()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: size: %w", ErrIO, r.name, err)
	}
	r.size = n
	return n, nil
}

// ReadFull fills p from the current position and advances past it. It
// returns io.EOF when nothing is left and io.ErrUnexpectedEOF when the source
// ends inside p. Bytes are served from the block cache, which is refilled
// with one backend read whenever the position leaves it.
func (r *Reader) ReadFull(p []byte) error {
	if r.closed {
		return ErrClosed
	}
	n := 0
	for n < len(p) {
		if r.pos < r.bufOff || r.pos >= r.bufOff+int64(r.bufLen) {
			if err := r.fill(); err != nil {
				if errors.Is(err, io.EOF) && n > 0 {
					return io.ErrUnexpectedEOF
				}
				return err
			}
		}
		c := copy(p[n:], r.buf[r.pos-r.bufOff:r.bufLen])
		n += c
		r.pos += int64(c)
	}
	return nil
}

// fill loads the block starting at the current position.
func (r *Reader) fill() error {
	nr, err := r.backend.ReadAt(r.buf, r.pos)
	if nr > 0 {
		r.bufOff = r.pos
		r.bufLen = nr
		return nil
	}
	r.bufLen = 0
	if err == nil || errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("%w: %s at offset %d: %w", ErrIO, r.name, r.pos, err)
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.ReadFull(r.scratch[:1]); err != nil {
		return 0, err
	}
	return r.scratch[0], nil
}

// ReadInt8 reads one byte as a two's complement value.
func (r *Reader) ReadInt8() (int8, error) {
	b, err := r.ReadUint8()
	return int8(b), err
}

// ReadInt16 reads two bytes in the Reader's byte order. Callers wanting
// the unsigned value convert through uint16.
func (r *Reader) ReadInt16() (int16, error) {
	if err := r.ReadFull(r.scratch[:2]); err != nil {
		return 0, err
	}
	return int16(r.order.Uint16(r.scratch[:2])), nil
}

// ReadInt32 reads four bytes in the Reader's byte order.
func (r *Reader) ReadInt32() (int32, error) {
	if err := r.ReadFull(r.scratch[:4]); err != nil {
		return 0, err
	}
	return int32(r.order.Uint32(r.scratch[:4])), nil
}

// ReadInt64 reads eight bytes in the Reader's byte order. ReadFloat64 is
// built on it.
func (r *Reader) ReadInt64() (int64, error) {
	if err := r.ReadFull(r.scratch[:8]); err != nil {
		return 0, err
	}
	return int64(r.order.Uint64(r.scratch[:8])), nil
}

// ReadFloat64 reinterprets eight bytes, in the Reader's byte order, as an
// IEEE-754 double.
func (r *Reader) ReadFloat64() (float64, error) {
	bits, err := r.ReadInt64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

// ReadLine reads a text line of at most max bytes. The line ends at LF, at
// CR, or at CR LF, and the terminator is consumed but not returned. A line
// that reaches max bytes is returned as is and the rest is left for the next
// call. End of file after at least one byte ends the line normally, end of
// file before any byte is io.EOF.
func (r *Reader) ReadLine(max int) (string, error) {
	line := make([]byte, 0, 80)
	for len(line) < max {
		c, err := r.ReadUint8()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return string(line), nil
			}
			return "", err
		}
		switch c {
		case '\n':
			return string(line), nil
		case '\r':
			next, err := r.ReadUint8()
			if err == nil && next != '\n' {
				r.pos--
			} else if err != nil && !errors.Is(err, io.EOF) {
				return "", err
			}
			return string(line), nil
		}
		line = append(line, c)
	}
	return string(line), nil
}

// Close releases the backend on the first call. Later calls return the
// result of the first one.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.closed = true
		r.buf = nil
		r.bufLen = 0
		r.closeErr = r.backend.Close()
	})
	return r.closeErr
}
