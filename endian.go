package sweph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/mshafiee/sweph/bytesource"
)

// curPos makes a read continue from the current position.
const curPos = -1

// byteOrder describes how the multi-byte fields of a file relate to the
// byte order of the source reading it. It is derived once per file from the
// test word.
type byteOrder struct {
	// reorder is set when every multi-byte field has to be byte-swapped
	// after the primitive read.
	reorder bool
	// bigEndian is set when the top byte of the test word, as read by the
	// source, is the top byte of TestEndian.
	bigEndian bool
}

var errBadTestWord = errors.New("byte order test word does not match")

// detectByteOrder derives the byte order of a file from its test word, read
// in the source's byte order.
func detectByteOrder(word int32) (byteOrder, error) {
	var o byteOrder
	if word != TestEndian {
		swapped := int32(bits.ReverseBytes32(uint32(word)))
		if swapped != TestEndian {
			return o, fmt.Errorf("%w: %#08x", errBadTestWord, uint32(word))
		}
		o.reorder = true
	}
	o.bigEndian = uint32(word)>>24 == TestEndian>>24
	return o, nil
}

// shift3 reports whether a byte-swapped 24-bit field has to be moved down
// into the low three bytes of the 32-bit word it was swapped as.
func (o byteOrder) shift3() bool {
	return (o.bigEndian && !o.reorder) || (!o.bigEndian && o.reorder)
}

// decoder reads the numeric fields of a file on top of a source's primitive
// reads. A pos of curPos continues at the current position.
type decoder struct {
	src bytesource.ByteSource
	byteOrder
}

// seek moves the source to pos unless pos is curPos, in which case the
// read continues where the previous one stopped.
func (d decoder) seek(pos int64) error {
	if pos == curPos {
		return nil
	}
	return d.src.Seek(pos)
}

// read2 reads a 16-bit field at pos and swaps it when the file's order
// differs from the source's. With unsigned set the result is in 0..65535,
// otherwise it is sign-extended.
func (d decoder) read2(pos int64, unsigned bool) (int32, error) {
	if err := d.seek(pos); err != nil {
		return 0, err
	}
	v, err := d.src.ReadInt16()
	if err != nil {
		return 0, err
	}
	if d.reorder {
		v = int16(bits.ReverseBytes16(uint16(v)))
	}
	if unsigned {
		return int32(uint16(v)), nil
	}
	return int32(v), nil
}

// read3 reads a 24-bit unsigned field. The three bytes are composed in the
// source's byte order; a reordered field is swapped as a 32-bit word and
// then shifted down when shift3 says so.
func (d decoder) read3(pos int64) (uint32, error) {
	if err := d.seek(pos); err != nil {
		return 0, err
	}
	var raw [3]byte
	if err := d.src.ReadFull(raw[:]); err != nil {
		return 0, err
	}
	v := compose3(raw, d.src.Order())
	if d.reorder {
		v = bits.ReverseBytes32(v)
		if d.shift3() {
			v >>= 8
		}
	}
	return v, nil
}

// compose3 places three bytes in the low end of a 32-bit word the way order
// would read them from the start of a four-byte field.
func compose3(raw [3]byte, order binary.ByteOrder) uint32 {
	var w [4]byte
	if isLittleEndian(order) {
		copy(w[:3], raw[:])
	} else {
		copy(w[1:], raw[:])
	}
	return order.Uint32(w[:])
}

// isLittleEndian reports whether order stores the least significant byte
// first.
func isLittleEndian(order binary.ByteOrder) bool {
	return order.Uint16([]byte{1, 0}) == 1
}

// read4 reads a 32-bit field. Unsigned fields that are not reordered never
// have their top bit set in this format: it is masked off rather than
// treated as magnitude.
func (d decoder) read4(pos int64, unsigned bool) (int64, error) {
	if err := d.seek(pos); err != nil {
		return 0, err
	}
	v, err := d.src.ReadInt32()
	if err != nil {
		return 0, err
	}
	if d.reorder {
		u := bits.ReverseBytes32(uint32(v))
		if unsigned {
			return int64(u), nil
		}
		return int64(int32(u)), nil
	}
	if unsigned && v < 0 {
		v &= math.MaxInt32
	}
	return int64(v), nil
}

// read8 reads a 64-bit IEEE-754 double at pos. The bytes are reversed
// before reinterpretation when the file's order differs from the source's.
func (d decoder) read8(pos int64) (float64, error) {
	if err := d.seek(pos); err != nil {
		return 0, err
	}
	v, err := d.src.ReadInt64()
	if err != nil {
		return 0, err
	}
	u := uint64(v)
	if d.reorder {
		u = bits.ReverseBytes64(u)
	}
	return math.Float64frombits(u), nil
}

// readByte reads a single unsigned byte at pos. Byte order does not apply.
func (d decoder) readByte(pos int64) (uint8, error) {
	if err := d.seek(pos); err != nil {
		return 0, err
	}
	return d.src.ReadUint8()
}

// readUint reads an unsigned field of width 1 to 4 bytes.
func (d decoder) readUint(width int) (uint32, error) {
	switch width {
	case 1:
		b, err := d.src.ReadUint8()
		return uint32(b), err
	case 2:
		v, err := d.read2(curPos, true)
		return uint32(v) & 0xffff, err
	case 3:
		return d.read3(curPos)
	case 4:
		v, err := d.read4(curPos, true)
		return uint32(v), err
	default:
		return 0, errImpossibleWidth
	}
}

var errImpossibleWidth = errors.New("impossible field width")
