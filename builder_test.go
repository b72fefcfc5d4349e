package sweph

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync/atomic"

	"github.com/mshafiee/sweph/bytesource"
)

// testBody describes one body of a synthetic file.
type testBody struct {
	id      int
	flags   uint8
	ncoe    int
	rmaxRaw int32
	tstart  float64
	dseg    float64
	// nindex overrides the number of segments implied by segments.
	nindex  int
	rot     [7]float64
	ellipse []float64
	// segments holds the packed coefficient block of every segment.
	segments [][]byte
}

// appendOrder is a byte order that can also append, as binary.BigEndian and
// binary.LittleEndian do.
type appendOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// testFile builds .se1 files. Zero fields get working defaults.
type testFile struct {
	order     appendOrder
	name      string
	kind      FileKind
	version   string
	copyright string
	elements  string
	nameField string
	de        int32
	tstart    float64
	tend      float64
	// count overrides the stored body count, -1 stores zero.
	count     int
	wideIDs   bool
	constants GlobalConstants
	bodies    []testBody
	// corrupt is applied to the finished image.
	corrupt func(img []byte, crcPos int)
}

var testConstants = GlobalConstants{
	CLight:       299792458,
	AUnit:        1.49597870691e11,
	HelGravConst: 1.32712440017987e20,
	RatME:        81.30056,
	SunRadius:    6.96e8,
}

func (tf *testFile) build() ([]byte, int) {
	order := tf.order
	if order == nil {
		order = binary.BigEndian
	}
	version := tf.version
	if version == "" {
		version = "SWISSEPH 2"
	}
	copyright := tf.copyright
	if copyright == "" {
		copyright = "Copyright test data, not for astronomical use"
	}

	var img []byte
	img = append(img, version+"\r\n"...)
	img = append(img, baseName(tf.name)+"\r\n"...)
	img = append(img, copyright+"\r\n"...)
	if tf.kind == KindAnyAsteroid {
		img = append(img, tf.elements+"\r\n"...)
	}
	img = order.AppendUint32(img, TestEndian)
	lenPos := len(img)
	img = order.AppendUint32(img, 0)
	img = order.AppendUint32(img, uint32(tf.de))
	img = order.AppendUint64(img, math.Float64bits(tf.tstart))
	img = order.AppendUint64(img, math.Float64bits(tf.tend))

	count := len(tf.bodies)
	switch {
	case tf.count < 0:
		count = 0
	case tf.count > 0:
		count = tf.count
	}
	if tf.wideIDs {
		count += 256
	}
	img = order.AppendUint16(img, uint16(count))
	for _, b := range tf.bodies {
		if tf.wideIDs {
			img = order.AppendUint32(img, uint32(b.id))
		} else {
			img = order.AppendUint16(img, uint16(b.id))
		}
	}
	if tf.kind == KindAnyAsteroid {
		field := make([]byte, astNameField)
		copy(field, tf.nameField)
		img = append(img, field...)
	}
	crcPos := len(img)
	img = order.AppendUint32(img, 0)

	constLen := 5 * 8
	for _, b := range tf.bodies {
		constLen += 4 + 1 + 1 + 4 + 10*8 + 8*len(b.ellipse)
	}
	indexPos := make([]int, len(tf.bodies))
	next := len(img) + constLen
	for i, b := range tf.bodies {
		indexPos[i] = next
		next += 3 * len(b.segments)
	}
	dataStart := next

	c := tf.constants
	if c == (GlobalConstants{}) {
		c = testConstants
	}
	for _, v := range []float64{c.CLight, c.AUnit, c.HelGravConst, c.RatME, c.SunRadius} {
		img = order.AppendUint64(img, math.Float64bits(v))
	}
	for i, b := range tf.bodies {
		nindex := len(b.segments)
		if b.nindex != 0 {
			nindex = b.nindex
		}
		img = order.AppendUint32(img, uint32(indexPos[i]))
		img = append(img, b.flags, byte(b.ncoe))
		img = order.AppendUint32(img, uint32(b.rmaxRaw))
		tend := b.tstart + float64(nindex)*b.dseg
		for _, v := range append([]float64{b.tstart, tend, b.dseg}, b.rot[:]...) {
			img = order.AppendUint64(img, math.Float64bits(v))
		}
		for _, v := range b.ellipse {
			img = order.AppendUint64(img, math.Float64bits(v))
		}
	}

	off := dataStart
	for _, b := range tf.bodies {
		for _, s := range b.segments {
			img = append(img, put3(order, uint32(off))...)
			off += len(s)
		}
	}
	for _, b := range tf.bodies {
		for _, s := range b.segments {
			img = append(img, s...)
		}
	}

	order.PutUint32(img[lenPos:], uint32(len(img)))
	order.PutUint32(img[crcPos:], CRC32(img[:crcPos]))
	if tf.corrupt != nil {
		tf.corrupt(img, crcPos)
	}
	return img, crcPos
}

func put3(order binary.ByteOrder, v uint32) []byte {
	if isLittleEndian(order) {
		return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
	}
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// segBuilder packs the coefficient block of one segment in a byte order.
type segBuilder struct {
	order appendOrder
	buf   []byte
}

// encode maps a signed magnitude onto the stored value: the lowest bit is
// the sign.
func encode(k int64) uint64 {
	if k < 0 {
		return uint64(-2*k - 1)
	}
	return uint64(2 * k)
}

// axis4 appends an axis packed with the four whole-byte classes. vals[i]
// holds the magnitudes stored with width 4-i.
func (sb *segBuilder) axis4(vals [4][]int64) *segBuilder {
	sb.buf = append(sb.buf, byte(len(vals[0])<<4|len(vals[1])), byte(len(vals[2])<<4|len(vals[3])))
	sb.wide(vals)
	return sb
}

// axis6 appends an axis with the six-class header; nibbles and pairs hold the
// sub-byte classes.
func (sb *segBuilder) axis6(vals [4][]int64, nibbles, pairs []int64) *segBuilder {
	sb.buf = append(sb.buf, 0x80,
		byte(len(vals[0])<<4|len(vals[1])),
		byte(len(vals[2])<<4|len(vals[3])),
		byte(len(nibbles)<<4|len(pairs)))
	sb.wide(vals)
	sb.small(nibbles, 2)
	sb.small(pairs, 4)
	return sb
}

func (sb *segBuilder) wide(vals [4][]int64) {
	for class, vs := range vals {
		for _, k := range vs {
			v := encode(k)
			switch 4 - class {
			case 4:
				sb.buf = sb.order.AppendUint32(sb.buf, uint32(v))
			case 3:
				sb.buf = append(sb.buf, put3(sb.order, uint32(v))...)
			case 2:
				sb.buf = sb.order.AppendUint16(sb.buf, uint16(v))
			case 1:
				sb.buf = append(sb.buf, byte(v))
			}
		}
	}
}

func (sb *segBuilder) small(vals []int64, perByte int) {
	bitsPer := 8 / perByte
	for i := 0; i < len(vals); i += perByte {
		var b byte
		for j := 0; j < perByte; j++ {
			b <<= bitsPer
			if i+j < len(vals) {
				b |= byte(encode(vals[i+j]))
			}
		}
		sb.buf = append(sb.buf, b)
	}
}

func (sb *segBuilder) bytes() []byte { return sb.buf }

// memBackend serves an image from memory and can fail reads from an offset
// on.
type memBackend struct {
	data   []byte
	failAt int64
	closes atomic.Int32
}

var errInjected = errors.New("injected read failure")

func (m *memBackend) ReadAt(p []byte, off int64) (int, error) {
	if m.failAt > 0 && off >= m.failAt {
		return 0, errInjected
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if m.failAt > 0 && end > m.failAt {
		end = m.failAt
	}
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	return copy(p, m.data[off:end]), nil
}

func (m *memBackend) Size() (int64, error) { return int64(len(m.data)), nil }

func (m *memBackend) Close() error {
	m.closes.Add(1)
	return nil
}

func (tf *testFile) source(order binary.ByteOrder) (*memBackend, bytesource.ByteSource) {
	img, _ := tf.build()
	m := &memBackend{data: img}
	return m, bytesource.New(tf.name, m, bytesource.WithOrder(order), bytesource.WithBlockSize(64))
}
