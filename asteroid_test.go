package sweph

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAsteroidElements(t *testing.T) {
	row := func(prefix string, h, g, diam float64) string {
		return prefix + fmt.Sprintf("%-35s%7.2f%7.2f%-2s%7.1f", "Ceres", h, g, "", diam)
	}
	tests := []struct {
		name   string
		line   string
		number int
		h, g   float64
		diam   float64
	}{
		{name: "four digit number", line: row("   1 ", 3.34, 0.12, 939.4), number: 1, h: 3.34, g: 0.12, diam: 939.4},
		{name: "five digit number", line: row("12345 ", 14.5, 0.2, 3.5), number: 12345, h: 14.5, g: 0.2, diam: 3.5},
		{name: "six digit number", line: row("123456 ", 17, 0.15, 1.1), number: 123456, h: 17, g: 0.15, diam: 1.1},
		{
			name: "defaults", line: row("  433 ", 10, 0, 0), number: 433, h: 10, g: 0.15,
			diam: 1329 / math.Sqrt(0.15) * math.Pow(10, -2),
		},
		{name: "short line", line: "  99", number: 99, g: 0.15, diam: 1329 / math.Sqrt(0.15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := parseAsteroidElements(tt.line)
			assert.Equal(t, tt.line, el.Raw)
			assert.Equal(t, tt.number, el.Number)
			assert.InDelta(t, tt.h, el.H, 1e-9)
			assert.InDelta(t, tt.g, el.G, 1e-9)
			assert.InDelta(t, tt.diam, el.Diameter, 1e-6)
		})
	}
}

func TestNameFromElements(t *testing.T) {
	line := "  433 Eros                                 11.16"
	n, j := mpcNumber(line)
	assert.Equal(t, 433, n)
	assert.Equal(t, "Eros", nameFromElements(line, j))

	long := "123456 A name longer than nineteen characters"
	n, j = mpcNumber(long)
	assert.Equal(t, 123456, n)
	assert.Equal(t, "A name longer than", nameFromElements(long, j))
}

func TestAtof(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"  1.5e3x", 1500},
		{"-2.", -2},
		{"+.5", 0.5},
		{"16.8  0.3", 16.8},
		{"1e", 1},
		{"7e+", 7},
		{".", 0},
		{"-", 0},
		{"abc", 0},
		{"", 0},
		{"\t42", 42},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, atof(tt.in), "%q", tt.in)
	}
}
