// Package sweph reads Swiss Ephemeris .se1 files.
//
// A file starts with a short text header, followed by a binary header that
// is protected by a CRC-32, a block of constants for every body the file
// carries, and the packed Chebyshev coefficients of every body, one block per
// time segment. Open parses and verifies everything up to the coefficients;
// DecodeSegment unpacks the coefficients of one body at one date.
//
// Files are written in the byte order of the machine that produced them.
// The reader detects the order from a test word and swaps on top of the
// primitive reads of the underlying bytesource.ByteSource.
package sweph

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mshafiee/sweph/bytesource"
	"github.com/mshafiee/sweph/internal/logging"
)

type openOptions struct {
	kind    FileKind
	hasKind bool
	logger  *slog.Logger
	session *Session
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

// WithKind sets the kind of the file. By default the kind is derived from
// the file name with KindOfFile.
func WithKind(k FileKind) OpenOption {
	return func(o *openOptions) {
		o.kind = k
		o.hasKind = true
	}
}

// WithLogger sets the logger used for open, close and rejection events.
func WithLogger(l *slog.Logger) OpenOption {
	return func(o *openOptions) { o.logger = l }
}

// WithSession attaches the file to a shared session. Without it every file
// gets a session of its own.
func WithSession(s *Session) OpenOption {
	return func(o *openOptions) { o.session = s }
}

// Open parses the header and the constants block of the ephemeris file read
// from src. name is the file name the header has to confirm; only its base
// name is compared.
//
// Open takes ownership of src: it is closed when the file is rejected, and
// by Close otherwise.
func Open(src bytesource.ByteSource, name string, opts ...OpenOption) (*File, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasKind {
		o.kind = KindOfFile(name)
	}
	if o.session == nil {
		o.session = NewSession()
	}

	f := &File{
		src:     src,
		name:    name,
		kind:    o.kind,
		session: o.session,
		logger:  logging.Default(o.logger).With("component", "sweph", "file", name),
	}

	if err := f.readHeader(); err != nil {
		return nil, f.fail(err)
	}
	if err := f.readConstants(); err != nil {
		return nil, f.fail(err)
	}

	f.session.commit(f)
	filesOpened.WithLabelValues(f.kind.String()).Inc()
	f.logger.Debug("ephemeris file opened",
		"kind", f.kind, "version", f.Version, "de", f.DENumber,
		"start", f.TStart, "end", f.TEnd, "bodies", f.BodyIDs)
	return f, nil
}

// fail records a rejected file and releases it.
func (f *File) fail(err error) error {
	filesRejected.WithLabelValues(codeLabel(err)).Inc()
	f.logger.Warn("ephemeris file rejected", "error", err)
	f.reset()
	return err
}

// reset closes the source and clears everything parsed so far.
func (f *File) reset() {
	if f.src != nil {
		_ = f.src.Close()
	}
	for _, b := range f.Bodies {
		b.seg = nil
	}
	f.src = nil
	f.closed = true
	f.order = byteOrder{}
	f.Version, f.DENumber = 0, 0
	f.TStart, f.TEnd = 0, 0
	f.BodyIDs, f.Bodies = nil, nil
	f.AsteroidName = ""
	f.elements = nil
	f.Constants = GlobalConstants{}
}

// Close releases the file. It is safe to call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, b := range f.Bodies {
		b.seg = nil
	}
	err := f.src.Close()
	f.logger.Debug("ephemeris file closed")
	return err
}

func (f *File) decoder() decoder {
	return decoder{src: f.src, byteOrder: f.order}
}

// readHeader parses the text lines and the CRC-protected binary header and
// leaves the source positioned at the constants block.
func (f *File) readHeader() error {
	src := f.src

	line, err := src.ReadLine(MaxLine)
	if err != nil {
		return damaged(f.name, "(1)", err, "reading version line")
	}
	v, ok := parseVersion(line)
	if !ok {
		return damaged(f.name, "(1)", nil, "no version number in %q", line)
	}
	f.Version = v

	line, err = src.ReadLine(MaxLine)
	if err != nil {
		return damaged(f.name, "(1)", err, "reading file name line")
	}
	if got, want := strings.ToLower(strings.TrimSpace(line)), baseName(f.name); got != want {
		return damaged(f.name, "(0)", nil, "header names %q, it may be a wrong file (should be %s)", got, want)
	}

	if _, err := src.ReadLine(MaxLine); err != nil {
		return damaged(f.name, "(1)", err, "reading copyright line")
	}

	var elements AsteroidElements
	if f.kind == KindAnyAsteroid {
		line, err = src.ReadLine(2 * MaxLine)
		if err != nil {
			return damaged(f.name, "(1)", err, "reading orbital elements")
		}
		elements = parseAsteroidElements(line)
	}

	word, err := src.ReadInt32()
	if err != nil {
		return damaged(f.name, "(1)", err, "reading byte order test word")
	}
	f.order, err = detectByteOrder(word)
	if err != nil {
		return damaged(f.name, "(1)", err, "")
	}
	d := f.decoder()

	flen, err := d.read4(curPos, true)
	if err != nil {
		return damaged(f.name, "(2)", err, "reading file length")
	}
	size, err := src.Length()
	if err != nil {
		return damaged(f.name, "(2)", err, "determining file length")
	}
	if flen != size {
		return damaged(f.name, "(2)", nil, "length is %d instead of %d", size, flen)
	}

	de, err := d.read4(curPos, false)
	if err != nil {
		return damaged(f.name, "(2)", err, "reading DE number")
	}
	f.DENumber = int32(de)

	if f.TStart, err = d.read8(curPos); err != nil {
		return damaged(f.name, "(2)", err, "reading start date")
	}
	if f.TEnd, err = d.read8(curPos); err != nil {
		return damaged(f.name, "(2)", err, "reading end date")
	}
	if f.TStart > f.TEnd {
		return damaged(f.name, "(2)", nil, "start date %f after end date %f", f.TStart, f.TEnd)
	}

	if err := f.readBodyIDs(d); err != nil {
		return err
	}

	if f.kind == KindAnyAsteroid {
		if err := f.readAsteroidName(&elements); err != nil {
			return err
		}
		f.AsteroidName = elements.Name
		f.elements = &elements
	}

	return f.checkCRC(d)
}

func (f *File) readBodyIDs(d decoder) error {
	n, err := d.read2(curPos, true)
	if err != nil {
		return damaged(f.name, "(3)", err, "reading body count")
	}
	width := 2
	if n > 256 {
		width = 4
		n %= 256
	}
	if n < 1 || n > MaxBodies {
		return damaged(f.name, "(3)", nil, "%d bodies", n)
	}
	f.BodyIDs = make([]int, n)
	for i := range f.BodyIDs {
		id, err := d.readUint(width)
		if errors.Is(err, errImpossibleWidth) {
			return damaged(f.name, "(3b)", err, "body id width %d", width)
		}
		if err != nil {
			return damaged(f.name, "(3)", err, "reading body id %d", i)
		}
		f.BodyIDs[i] = int(id)
	}
	return nil
}

// readAsteroidName takes the name from the elements record when the record
// belongs to the file's asteroid, and from the fixed name field otherwise.
func (f *File) readAsteroidName(el *AsteroidElements) error {
	field := make([]byte, astNameField)
	number, j := mpcNumber(el.Raw)
	if err := f.src.ReadFull(field); err != nil {
		return damaged(f.name, "(3)", err, "reading asteroid name")
	}
	if number == f.BodyIDs[0]-AstOffset {
		el.Name = nameFromElements(el.Raw, j)
		return nil
	}
	if i := strings.IndexByte(string(field), 0); i >= 0 {
		field = field[:i]
	}
	el.Name = strings.TrimSpace(string(field))
	return nil
}

// checkCRC verifies the checksum that follows the header against the bytes
// read so far, then leaves the source just after the checksum.
func (f *File) checkCRC(d decoder) error {
	pos := f.src.Position()
	stored, err := d.read4(curPos, false)
	if err != nil {
		return damaged(f.name, "(4)", err, "reading header checksum")
	}
	if pos > maxHeaderRegion {
		return damaged(f.name, "(4)", nil, "header of %d bytes", pos)
	}
	header := make([]byte, pos)
	if err := f.src.Seek(0); err != nil {
		return damaged(f.name, "(4)", err, "rereading header")
	}
	if err := f.src.ReadFull(header); err != nil {
		return damaged(f.name, "(4)", err, "rereading header")
	}
	if sum := CRC32(header); sum != uint32(stored) {
		return damaged(f.name, "(5)", nil, "header checksum %#08x, expected %#08x", sum, uint32(stored))
	}
	if err := f.src.Seek(pos + 4); err != nil {
		return damaged(f.name, "(5)", err, "")
	}
	return nil
}

// parseVersion returns the number that follows the first run of non-digits.
func parseVersion(line string) (int, bool) {
	s := strings.TrimSpace(line)
	i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return 0, false
	}
	j := i
	for j < len(s) && isDigit(s[j]) {
		j++
	}
	v, err := strconv.Atoi(s[i:j])
	if err != nil {
		return 0, false
	}
	return v, true
}

// baseName strips directories from a local path or a URL.
func baseName(name string) string {
	if i := strings.LastIndexByte(name, filepath.Separator); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}

// FileTimeRange reads the validity range of the ephemeris file in src
// without parsing the rest of the header. src stays open.
func FileTimeRange(src bytesource.ByteSource, kind FileKind) (start, end float64, err error) {
	name := src.Name()
	if err := src.Seek(0); err != nil {
		return 0, 0, unspecified(name, err, "")
	}
	lines := 3
	if kind == KindAnyAsteroid {
		lines = 4
	}
	for i := 0; i < lines; i++ {
		limit := MaxLine
		if i == 3 {
			limit = 2 * MaxLine
		}
		if _, err := src.ReadLine(limit); err != nil {
			return 0, 0, unspecified(name, err, "reading header line %d", i+1)
		}
	}
	word, err := src.ReadInt32()
	if err != nil {
		return 0, 0, unspecified(name, err, "reading byte order test word")
	}
	order, err := detectByteOrder(word)
	if err != nil {
		return 0, 0, unspecified(name, err, "")
	}
	d := decoder{src: src, byteOrder: order}
	flen, err := d.read4(curPos, true)
	if err != nil {
		return 0, 0, unspecified(name, err, "reading file length")
	}
	if size, err := src.Length(); err != nil || size != flen {
		return 0, 0, unspecified(name, err, "length is %d instead of %d", size, flen)
	}
	if _, err := d.read4(curPos, false); err != nil {
		return 0, 0, unspecified(name, err, "reading DE number")
	}
	if start, err = d.read8(curPos); err != nil {
		return 0, 0, unspecified(name, err, "reading start date")
	}
	if end, err = d.read8(curPos); err != nil {
		return 0, 0, unspecified(name, err, "reading end date")
	}
	return start, end, nil
}
