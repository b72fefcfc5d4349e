package sweph

import (
	"math"
	"strconv"
	"strings"
)

// AsteroidElements is the orbital-elements record carried in the header of
// an any-asteroid file.
type AsteroidElements struct {
	// Raw is the record as stored, without the line terminator.
	Raw string
	// H is the absolute magnitude.
	H float64
	// G is the slope parameter, 0.15 when the record leaves it at zero.
	G float64
	// Diameter is the diameter in km. When the record leaves it at zero it
	// is estimated from H assuming an albedo of 0.15.
	Diameter float64
	// Number is the MPC number found at the start of the record.
	Number int
	// Name is the asteroid name, filled in once the header's name block has
	// been read.
	Name string
}

const defaultSlope = 0.15

// parseAsteroidElements extracts H, G and the diameter from an elements
// record. The columns are counted from the end of the leading MPC number,
// not from the start of the line, because the number field has had
// different widths over time.
func parseAsteroidElements(line string) AsteroidElements {
	el := AsteroidElements{Raw: line}

	i := 0
	for i < len(line) && line[i] == ' ' {
		i++
	}
	for i < len(line) && isDigit(line[i]) {
		i++
	}
	i++

	el.H = atof(column(line, 35+i, len(line)))
	el.G = atof(column(line, 42+i, len(line)))
	if el.G == 0 {
		el.G = defaultSlope
	}
	el.Diameter = atof(column(line, 51+i, 58+i))
	if el.Diameter == 0 {
		el.Diameter = 1329 / math.Sqrt(defaultSlope) * math.Pow(10, -0.2*el.H)
	}
	el.Number, _ = mpcNumber(line)
	return el
}

// mpcNumber returns the MPC number at the start of an elements record and
// the index of the character that ends it. Old records used four columns for
// the number, newer ones use up to ten.
func mpcNumber(line string) (int, int) {
	j := 4
	for j < len(line) && j < 10 && line[j] != ' ' {
		j++
	}
	if j > len(line) {
		j = len(line)
	}
	return int(atof(line[:j])), j
}

// nameFromElements returns the name that follows the MPC number ending at j.
func nameFromElements(line string, j int) string {
	return strings.TrimSpace(column(line, j+1, j+1+maxAstNameLen))
}

// column returns line[from:to] clamped to the line.
func column(line string, from, to int) string {
	if to > len(line) {
		to = len(line)
	}
	if from >= to {
		return ""
	}
	return line[from:to]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// atof parses the longest prefix of s that forms a decimal number, after
// leading white space, and returns 0 when there is none.
func atof(s string) float64 {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	mant := end
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && isDigit(s[end]) {
			end++
		}
	}
	if end == mant || (end == mant+1 && s[mant] == '.') {
		return 0
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		e := end + 1
		if e < len(s) && (s[e] == '+' || s[e] == '-') {
			e++
		}
		if e < len(s) && isDigit(s[e]) {
			for e < len(s) && isDigit(s[e]) {
				e++
			}
			end = e
		}
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}
