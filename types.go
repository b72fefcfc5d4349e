package sweph

import (
	"log/slog"
	"sync"

	"github.com/mshafiee/sweph/bytesource"
)

// FileKind identifies the family of an ephemeris file. The header layout
// differs only for KindAnyAsteroid, which carries an orbital-elements line
// and an asteroid name.
type FileKind int

const (
	KindPlanet       FileKind = iota // sepl*.se1
	KindMoon                         // semo*.se1
	KindMainAsteroid                 // seas*.se1
	KindAnyAsteroid                  // ast*/se*.se1, one numbered asteroid per file
)

func (k FileKind) String() string {
	switch k {
	case KindPlanet:
		return "planet"
	case KindMoon:
		return "moon"
	case KindMainAsteroid:
		return "main-asteroid"
	case KindAnyAsteroid:
		return "any-asteroid"
	default:
		return "unknown"
	}
}

// Body numbers as stored in the files.
const (
	BodyEMB     = 0 // Earth-Moon barycenter
	BodyMoon    = 1
	BodyMercury = 2
	BodyVenus   = 3
	BodyMars    = 4
	BodyJupiter = 5
	BodySaturn  = 6
	BodyUranus  = 7
	BodyNeptune = 8
	BodyPluto   = 9
	BodySunBary = 10 // Sun relative to the solar system barycenter
	BodyAnyBody = 11 // shared slot of all numbered asteroids
	BodyChiron  = 12
	BodyPholus  = 13
	BodyCeres   = 14
	BodyPallas  = 15
	BodyJuno    = 16
	BodyVesta   = 17

	// AstOffset is added to an MPC number to form the body number of a
	// numbered asteroid.
	AstOffset = 10000
)

// Format constants.
const (
	// TestEndian is the value of the byte order test word as written.
	TestEndian = 0x616263
	// MaxLine caps the length of a header text line.
	MaxLine = 256
	// MaxBodies is the largest number of bodies a file may carry.
	MaxBodies = 20
	// FileSuffix is the extension of ephemeris files.
	FileSuffix = "se1"

	maxHeaderRegion = 4 * MaxLine
	astNameField    = 30
	maxAstNameLen   = 19
)

// Body flag bits.
const (
	FlagHelio   = 1 // heliocentric rather than barycentric
	FlagRotate  = 2 // coefficients are relative to a rotating frame
	FlagEllipse = 4 // a reference ellipse follows the body constants
	FlagEMBHel  = 8 // Earth-Moon barycenter relative to the Sun
)

// GlobalConstants are the physical constants stored after the header.
type GlobalConstants struct {
	CLight       float64 // speed of light, m/s
	AUnit        float64 // astronomical unit, m
	HelGravConst float64 // heliocentric gravitational constant
	RatME        float64 // Earth/Moon mass ratio
	SunRadius    float64
}

// Body is the on-disk metadata of one body.
//
// Bodies are mutated while a file is parsed and by DecodeSegment, which
// reuses the body's segment buffer.
type Body struct {
	ID    int
	Flags uint8
	// NCoe is the number of Chebyshev coefficients per axis and segment
	// (interpolation order + 1).
	NCoe int
	// RMax is the normalisation factor of the packed coefficients.
	RMax   float64
	TStart float64
	TEnd   float64
	// DSeg is the segment length in days.
	DSeg float64
	// NIndex is the number of segments.
	NIndex int
	// IndexPos is the file offset of the body's segment index table.
	IndexPos int64

	// Rotation and precession constants, consumed by callers.
	TElem, Prot, DProt, QRot, DQRot, Peri, DPeri float64

	// RefEllipse holds 2*NCoe coefficients when FlagEllipse is set.
	RefEllipse []float64

	seg *Segment
}

// HasEllipse reports whether the body carries a reference ellipse.
func (b *Body) HasEllipse() bool {
	return b.Flags&FlagEllipse != 0
}

// Segment is the decoded coefficient block of one body and one segment.
type Segment struct {
	Body int
	NCoe int
	// Coeffs holds NCoe coefficients for x, then y, then z.
	Coeffs []float64
	// TSeg0 and TSeg1 bound the segment: TSeg0 <= t < TSeg1.
	TSeg0 float64
	TSeg1 float64
}

// Axis returns the coefficients of axis i (0, 1 or 2).
func (s *Segment) Axis(i int) []float64 {
	return s.Coeffs[i*s.NCoe : (i+1)*s.NCoe]
}

// Clone returns a copy that does not share storage with s.
func (s *Segment) Clone() *Segment {
	c := *s
	c.Coeffs = append([]float64(nil), s.Coeffs...)
	return &c
}

// File is an open ephemeris file.
//
// All reads go through one ByteSource whose seek+read pairs are not
// atomic, so every operation that touches the source holds mu.
type File struct {
	mu     sync.Mutex
	src    bytesource.ByteSource
	name   string
	kind   FileKind
	order  byteOrder
	closed bool

	session  *Session
	logger   *slog.Logger
	elements *AsteroidElements

	Version  int
	DENumber int32
	TStart   float64
	TEnd     float64
	BodyIDs  []int
	Bodies   []*Body

	// AsteroidName is set for KindAnyAsteroid files.
	AsteroidName string
	Constants    GlobalConstants
}

// Name returns the file name the file was opened with.
func (f *File) Name() string { return f.name }

// Kind returns the kind the file was opened as.
func (f *File) Kind() FileKind { return f.kind }

// Body returns the record of body id, if the file carries it.
func (f *File) Body(id int) (*Body, bool) {
	for _, b := range f.Bodies {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// Covers reports whether tjd lies in the file's validity range.
func (f *File) Covers(tjd float64) bool {
	return tjd >= f.TStart && tjd <= f.TEnd
}
