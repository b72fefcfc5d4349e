package sweph

import (
	"errors"
	"math"

	"github.com/mshafiee/sweph/bytesource"
)

// readConstants parses the block that follows the header: the global
// constants, then the record of every body in the order of BodyIDs.
func (f *File) readConstants() error {
	d := f.decoder()

	var g [5]float64
	for i := range g {
		v, err := d.read8(curPos)
		if err != nil {
			return f.constantsError(err, "reading global constant %d", i)
		}
		g[i] = v
	}
	f.Constants = GlobalConstants{
		CLight:       g[0],
		AUnit:        g[1],
		HelGravConst: g[2],
		RatME:        g[3],
		SunRadius:    g[4],
	}

	f.Bodies = make([]*Body, 0, len(f.BodyIDs))
	for _, id := range f.BodyIDs {
		b := &Body{ID: id}
		f.Bodies = append(f.Bodies, b)
		if err := f.readBody(d, b); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) readBody(d decoder, b *Body) error {
	pos, err := d.read4(curPos, true)
	if err != nil {
		return f.constantsError(err, "reading index position of body %d", b.ID)
	}
	b.IndexPos = pos

	if b.Flags, err = d.readByte(curPos); err != nil {
		return f.constantsError(err, "reading flags of body %d", b.ID)
	}
	ncoe, err := d.readByte(curPos)
	if err != nil {
		return f.constantsError(err, "reading order of body %d", b.ID)
	}
	b.NCoe = int(ncoe)
	rmax, err := d.read4(curPos, false)
	if err != nil {
		return f.constantsError(err, "reading rmax of body %d", b.ID)
	}
	b.RMax = float64(rmax) / 1000

	var c [10]float64
	for i := range c {
		if c[i], err = d.read8(curPos); err != nil {
			return f.constantsError(err, "reading constant %d of body %d", i, b.ID)
		}
	}
	b.TStart, b.TEnd, b.DSeg = c[0], c[1], c[2]
	b.TElem, b.Prot, b.DProt = c[3], c[4], c[5]
	b.QRot, b.DQRot = c[6], c[7]
	b.Peri, b.DPeri = c[8], c[9]

	if b.DSeg <= 0 || math.IsNaN(b.DSeg) {
		return damaged(f.name, "(6c)", nil, "body %d has segment length %f", b.ID, b.DSeg)
	}
	if b.NCoe == 0 {
		return damaged(f.name, "(6c)", nil, "body %d has no coefficients", b.ID)
	}
	b.NIndex = int((b.TEnd - b.TStart + 0.1) / b.DSeg)

	b.RefEllipse = nil
	if b.HasEllipse() {
		b.RefEllipse = make([]float64, 2*b.NCoe)
		for i := range b.RefEllipse {
			if b.RefEllipse[i], err = d.read8(curPos); err != nil {
				return f.constantsError(err, "reading reference ellipse of body %d", b.ID)
			}
		}
	}
	b.seg = nil
	return nil
}

// constantsError classifies a read failure in the constants block: source
// failures and truncation are "(6a)", anything else "(6c)".
func (f *File) constantsError(err error, format string, args ...any) error {
	code := "(6c)"
	if errors.Is(err, bytesource.ErrIO) || bytesource.IsEOF(err) {
		code = "(6a)"
	}
	return damaged(f.name, code, err, format, args...)
}
