package sweph

import (
	"fmt"
	"math"
	"path"
	"strings"
)

const (
	// gregorianStart is the first Julian day of the Gregorian calendar.
	gregorianStart = 2305447.5
	// centuriesPerFile is the number of centuries covered by one planet,
	// moon or main asteroid file.
	centuriesPerFile = 6
)

// KindOf returns the kind of file that carries body id.
func KindOf(id int) (FileKind, error) {
	switch {
	case id == BodyMoon:
		return KindMoon, nil
	case id >= BodyEMB && id <= BodySunBary:
		return KindPlanet, nil
	case id >= BodyChiron && id <= BodyVesta:
		return KindMainAsteroid, nil
	case id > AstOffset:
		return KindAnyAsteroid, nil
	default:
		return 0, fmt.Errorf("%w: no ephemeris file for body %d", ErrNoBody, id)
	}
}

// KindOfFile guesses the kind of a file from its name.
func KindOfFile(name string) FileKind {
	base := baseName(name)
	switch {
	case strings.HasPrefix(base, "semo"):
		return KindMoon
	case strings.HasPrefix(base, "seas"):
		return KindMainAsteroid
	case strings.HasPrefix(base, "sepl"):
		return KindPlanet
	case strings.HasPrefix(base, "se") || strings.HasPrefix(base, "s"):
		return KindAnyAsteroid
	default:
		return KindPlanet
	}
}

// FileName returns the name of the file that carries body id at tjd.
//
// Planet, moon and main asteroid files cover 600 years starting at a
// century divisible by 6, e.g. sepl_18.se1 for 1800 to 2399 and
// seplm48.se1 for 4800 BC onwards. Every numbered asteroid has a file of
// its own in a directory per thousand, independent of the date.
func FileName(id int, tjd float64) (string, error) {
	kind, err := KindOf(id)
	if err != nil {
		return "", err
	}
	var prefix string
	switch kind {
	case KindMoon:
		prefix = "semo"
	case KindMainAsteroid:
		prefix = "seas"
	case KindPlanet:
		prefix = "sepl"
	case KindAnyAsteroid:
		n := id - AstOffset
		format := "se%05d." + FileSuffix
		if n > 99999 {
			format = "s%06d." + FileSuffix
		}
		return path.Join(fmt.Sprintf("ast%d", n/1000), fmt.Sprintf(format, n)), nil
	}

	year := calendarYear(tjd)
	icty := year / 100
	if year < 0 && year%100 != 0 {
		icty--
	}
	for icty%centuriesPerFile != 0 {
		icty--
	}
	sep := "_"
	if icty < 0 {
		sep = "m"
		icty = -icty
	}
	return fmt.Sprintf("%s%s%02d.%s", prefix, sep, icty, FileSuffix), nil
}

// calendarYear returns the astronomical year of tjd, in the Julian calendar
// before gregorianStart and in the Gregorian calendar from then on.
func calendarYear(tjd float64) int {
	u0 := tjd + 32082.5
	if tjd >= gregorianStart {
		u1 := u0 + math.Floor(u0/36525) - math.Floor(u0/146100) - 38
		if tjd >= 1830691.5 {
			u1++
		}
		u0 = u0 + math.Floor(u1/36525) - math.Floor(u1/146100) - 38
	}
	u2 := math.Floor(u0 + 123)
	u3 := math.Floor((u2 - 122.2) / 365.25)
	u4 := math.Floor((u2 - math.Floor(365.25*u3)) / 30.6001)
	return int(u3 + math.Floor((u4-2)/12) - 4800)
}
