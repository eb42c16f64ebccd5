// Package astro provides the small set of coordinate and time conversions
// needed to talk to an equatorial mount: angle <-> sexagesimal forms,
// Julian Day, and Local Sidereal Time.
package astro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Sexagesimal is an angle or time broken into sign, whole, minute and
// second parts.  Sign is +1 or -1 and applies to the whole value; the
// parts themselves are non-negative.
type Sexagesimal struct {
	Sign   int
	Whole  int
	Minute int
	Second float64
}

// Value recombines the parts into decimal units of the whole part.
func (s Sexagesimal) Value() float64 {
	v := float64(s.Whole) + float64(s.Minute)/60 + s.Second/3600
	return float64(s.Sign) * v
}

// Split breaks a decimal value into sexagesimal parts.  It is used both for
// degrees and for hours; the caller chooses the unit.
func Split(v float64) Sexagesimal {
	s := Sexagesimal{Sign: 1}
	if v < 0 {
		s.Sign = -1
		v = -v
	}
	s.Whole = int(v)
	rem := (v - float64(s.Whole)) * 60
	s.Minute = int(rem)
	s.Second = (rem - float64(s.Minute)) * 60
	// guard against 59.999999 rolling into 60 after formatting
	if s.Second > 59.9999999 {
		s.Second = 0
		s.Minute++
	}
	if s.Minute == 60 {
		s.Minute = 0
		s.Whole++
	}
	return s
}

// DegToDMS converts decimal degrees to (sign, deg, min, sec).
func DegToDMS(deg float64) (sign, d, m int, s float64) {
	sx := Split(deg)
	return sx.Sign, sx.Whole, sx.Minute, sx.Second
}

// DMSToDeg converts (sign, deg, min, sec) to decimal degrees.
func DMSToDeg(sign, d, m int, s float64) float64 {
	return Sexagesimal{Sign: sign, Whole: d, Minute: m, Second: s}.Value()
}

// HoursToHMS converts decimal hours to (h, m, s).  Hours are assumed
// non-negative, as right ascensions and times of day are.
func HoursToHMS(hours float64) (h, m int, s float64) {
	sx := Split(hours)
	return sx.Whole, sx.Minute, sx.Second
}

// HMSToHours converts (h, m, s) to decimal hours.
func HMSToHours(h, m int, s float64) float64 {
	return Sexagesimal{Sign: 1, Whole: h, Minute: m, Second: s}.Value()
}

// DegToHours converts an angle in degrees to hour angle units.
func DegToHours(deg float64) float64 {
	return deg / 15
}

// HoursToDeg converts an hour angle to degrees.
func HoursToDeg(hours float64) float64 {
	return hours * 15
}

// ParseSexagesimal parses free-text sexagesimal input such as
// "12:34:56.7", "-05*30'15", "+12 34.5" or a bare decimal number,
// returning a value in the unit of the leading field.  Any of
// ":*'\" " and the LX200 degree separator are accepted between fields.
func ParseSexagesimal(text string) (float64, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return 0, fmt.Errorf("empty sexagesimal string")
	}
	sign := 1.0
	switch t[0] {
	case '+':
		t = t[1:]
	case '-':
		sign = -1
		t = t[1:]
	}
	fields := strings.FieldsFunc(t, func(r rune) bool {
		switch r {
		case ':', '*', '\'', '"', ' ', '\t', 0xB0:
			return true
		}
		return false
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("cannot parse %q as sexagesimal", text)
	}
	var v, scale float64
	scale = 1
	for _, f := range fields {
		p, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as sexagesimal: %v", text, err)
		}
		if p < 0 {
			return 0, fmt.Errorf("interior sign in %q", text)
		}
		v += p / scale
		scale *= 60
	}
	return sign * v, nil
}

// JulianDay returns the Julian Day number for t.
func JulianDay(t time.Time) float64 {
	// Unix epoch is JD 2440587.5
	return float64(t.UTC().UnixNano())/86400e9 + 2440587.5
}

// GMST returns Greenwich Mean Sidereal Time in degrees, [0, 360).
func GMST(t time.Time) float64 {
	// IAU 1982 expression, adequate to well under a second of time for
	// the decades around J2000.
	d := JulianDay(t) - 2451545.0
	theta := 280.46061837 + 360.98564736629*d
	return Wrap360(theta)
}

// LST returns Local Sidereal Time in hours, [0, 24), for the given moment
// and site longitude in degrees (east positive).
func LST(t time.Time, lonDeg float64) float64 {
	return Wrap360(GMST(t)+lonDeg) / 15
}

// Wrap360 normalizes an angle in degrees to [0, 360).
func Wrap360(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// WrapDelta returns the signed shortest angular distance from 'from' to
// 'to' in degrees, in (-180, 180].
func WrapDelta(from, to float64) float64 {
	d := math.Mod(to-from, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// ClampDec limits a declination to the physical [-90, +90] range.
func ClampDec(deg float64) float64 {
	if deg > 90 {
		return 90
	}
	if deg < -90 {
		return -90
	}
	return deg
}
