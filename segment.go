package sweph

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DecodeSegment unpacks the Chebyshev coefficients of body b for the segment
// that contains tjd.
//
// The returned segment is the body's own buffer: the next decode for the
// same body overwrites it, and a failed decode discards it. Use
// Segment.Clone to keep a result. Store.Segment returns copies.
func (f *File) DecodeSegment(b *Body, tjd float64) (*Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if b == nil {
		return nil, ErrNoBody
	}

	start := time.Now()
	seg, err := f.decodeSegment(b, tjd)
	if err != nil {
		b.seg = nil
		segmentsDecoded.WithLabelValues("error").Inc()
		return nil, err
	}
	segmentsDecoded.WithLabelValues("ok").Inc()
	decodeDurationSeconds.Observe(time.Since(start).Seconds())
	return seg, nil
}

func (f *File) decodeSegment(b *Body, tjd float64) (*Segment, error) {
	d := f.decoder()

	x := math.Floor((tjd - b.TStart) / b.DSeg)
	if math.IsNaN(x) || x < 0 || x >= float64(b.NIndex) {
		return nil, fmt.Errorf("%w: body %d at %f, file covers %f to %f", ErrOutOfRange, b.ID, tjd, b.TStart, b.TEnd)
	}
	iseg := int(x)
	tseg0 := b.TStart + float64(iseg)*b.DSeg

	idx := b.IndexPos + int64(iseg)*3
	pos, err := d.read3(idx)
	if err != nil {
		return nil, f.decodeError(err, b, iseg, -1, idx)
	}
	if err := f.src.Seek(int64(pos)); err != nil {
		return nil, f.decodeError(err, b, iseg, -1, int64(pos))
	}

	seg := b.seg
	if seg == nil || len(seg.Coeffs) != 3*b.NCoe {
		seg = &Segment{Coeffs: make([]float64, 3*b.NCoe)}
	} else {
		clear(seg.Coeffs)
	}
	seg.Body = b.ID
	seg.NCoe = b.NCoe
	seg.TSeg0 = tseg0
	seg.TSeg1 = tseg0 + b.DSeg

	for axis := 0; axis < 3; axis++ {
		at := f.src.Position()
		if err := f.unpackAxis(d, b, seg.Coeffs[axis*b.NCoe:(axis+1)*b.NCoe]); err != nil {
			var fe *FileError
			if errors.As(err, &fe) {
				return nil, err
			}
			return nil, f.decodeError(err, b, iseg, axis, at)
		}
	}
	b.seg = seg
	return seg, nil
}

// unpackAxis decodes the coefficients of one axis into dst.
//
// Every axis starts with a header of size classes: four classes packed in
// two bytes, or six in four bytes when the top bit of the first byte is
// set. Classes 0 to 3 hold values 4, 3, 2 and 1 bytes wide, class 4 holds
// nibbles and class 5 holds bit pairs. The lowest bit of each value is its
// sign.
func (f *File) unpackAxis(d decoder, b *Body, dst []float64) error {
	var c [4]byte
	if err := f.src.ReadFull(c[:2]); err != nil {
		return err
	}
	var nsize [6]int
	nsizes := 4
	if c[0]&0x80 != 0 {
		if err := f.src.ReadFull(c[2:]); err != nil {
			return err
		}
		nsizes = 6
		for i := 0; i < 6; i++ {
			v := c[1+i/2]
			if i%2 == 0 {
				nsize[i] = int(v / 16)
			} else {
				nsize[i] = int(v % 16)
			}
		}
	} else {
		nsize[0] = int(c[0] / 16)
		nsize[1] = int(c[0] % 16)
		nsize[2] = int(c[1] / 16)
		nsize[3] = int(c[1] % 16)
	}
	nco := 0
	for _, n := range nsize {
		nco += n
	}
	if nco > b.NCoe {
		return damaged(f.name, "", nil, "%d coefficients instead of %d", nco, b.NCoe)
	}

	rmax := b.RMax
	idbl := 0
	for i := 0; i < nsizes; i++ {
		n := nsize[i]
		if n == 0 {
			continue
		}
		switch {
		case i < 4:
			width := 4 - i
			for m := 0; m < n; m++ {
				raw, err := d.readUint(width)
				if err != nil {
					return err
				}
				dst[idbl] = unpackWide(uint64(raw), rmax)
				idbl++
			}
		case i == 4:
			idbl2, err := f.unpackSmall(dst, idbl, n, 2, 16, rmax)
			if err != nil {
				return err
			}
			idbl = idbl2
		case i == 5:
			idbl2, err := f.unpackSmall(dst, idbl, n, 4, 64, rmax)
			if err != nil {
				return err
			}
			idbl = idbl2
		}
	}
	return nil
}

// unpackWide scales a whole-byte packed value.
func unpackWide(v uint64, rmax float64) float64 {
	if v&1 != 0 {
		return -(float64((v+1)/2) / 1e9 * rmax / 2)
	}
	return float64(v/2) / 1e9 * rmax / 2
}

// unpackSmall decodes n sub-byte values, perByte of them in every byte, most
// significant first. o is the place value of the first value's sign bit.
func (f *File) unpackSmall(dst []float64, idbl, n, perByte int, o uint64, rmax float64) (int, error) {
	raw := make([]byte, (n+perByte-1)/perByte)
	if err := f.src.ReadFull(raw); err != nil {
		return idbl, err
	}
	radix := uint64(1) << (8 / perByte)
	j := 0
	for m := 0; m < len(raw) && j < n; m++ {
		v := uint64(raw[m])
		for k, place := 0, o; k < perByte && j < n; k, place = k+1, place/radix {
			if v&place != 0 {
				dst[idbl] = -(float64((v+place)/place/2) * rmax / 2 / 1e9)
			} else {
				dst[idbl] = float64(v/place/2) * rmax / 2 / 1e9
			}
			v %= place
			j++
			idbl++
		}
	}
	return idbl, nil
}

func (f *File) decodeError(err error, b *Body, iseg, axis int, pos int64) error {
	where := fmt.Sprintf("body %d segment %d", b.ID, iseg)
	if axis >= 0 {
		where += fmt.Sprintf(" axis %d", axis)
	}
	return damaged(f.name, "", err, "%s at offset %d", where, pos)
}
