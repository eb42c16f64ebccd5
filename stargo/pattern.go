package stargo

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the payload of a Datum.
type Kind int

// The kinds of datum a scan field can produce.
const (
	KindInt Kind = iota
	KindFloat
	KindChar
	KindString
)

// Datum is one decoded field from a reply fragment.  Only the member
// matching K is meaningful.
type Datum struct {
	K Kind
	I int64
	F float64
	C byte
	S string
}

// Int returns the integer payload.
func (d Datum) Int() int64 { return d.I }

// Float returns the datum as a float, converting integers.
func (d Datum) Float() float64 {
	if d.K == KindInt {
		return float64(d.I)
	}
	return d.F
}

// String renders the datum for logs.
func (d Datum) String() string {
	switch d.K {
	case KindInt:
		return strconv.FormatInt(d.I, 10)
	case KindFloat:
		return strconv.FormatFloat(d.F, 'g', -1, 64)
	case KindChar:
		return string(d.C)
	default:
		return d.S
	}
}

// segment is one piece of a compiled pattern: either a literal run
// (verb == 0) or a typed field.
type segment struct {
	literal string
	verb    byte // 'd', 'f', 'c' or 's'
	width   int  // max consumed chars for 'd', 0 = unbounded
}

// Pattern is a compiled positional scan template.  It specifies the
// textual skeleton a reply fragment must have: literal characters
// interleaved with typed fields.  It is deliberately not a regular
// expression; each field has one small parser and matching either
// yields every field or fails as a whole.
type Pattern struct {
	raw  string
	segs []segment
}

// Empty reports whether the pattern expects no reply at all.
func (p Pattern) Empty() bool { return len(p.segs) == 0 && p.raw == "" }

// NumFields returns the number of typed fields in the pattern.
func (p Pattern) NumFields() int {
	n := 0
	for _, s := range p.segs {
		if s.verb != 0 {
			n++
		}
	}
	return n
}

func (p Pattern) String() string { return p.raw }

// CompilePattern parses a scan template such as "RD%8d%8d" or
// "%+3d*%2d:%2d".  Supported fields: %d (integer, optional max width),
// %f (float), %c (single character), %s (free string).  Flags, zero
// padding and precision are accepted so the same template string can
// serve both fmt rendering and scanning.
func CompilePattern(raw string) (Pattern, error) {
	p := Pattern{raw: raw}
	var lit strings.Builder
	i := 0
	for i < len(raw) {
		ch := raw[i]
		if ch != '%' {
			lit.WriteByte(ch)
			i++
			continue
		}
		if i+1 < len(raw) && raw[i+1] == '%' {
			lit.WriteByte('%')
			i += 2
			continue
		}
		if lit.Len() > 0 {
			p.segs = append(p.segs, segment{literal: lit.String()})
			lit.Reset()
		}
		i++ // consume '%'
		// flags
		for i < len(raw) && (raw[i] == '+' || raw[i] == '-' || raw[i] == ' ') {
			i++
		}
		width := 0
		for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
			width = width*10 + int(raw[i]-'0')
			i++
		}
		// precision, only meaningful when rendering
		if i < len(raw) && raw[i] == '.' {
			i++
			for i < len(raw) && raw[i] >= '0' && raw[i] <= '9' {
				i++
			}
		}
		if i >= len(raw) {
			return Pattern{}, fmt.Errorf("pattern %q ends mid-field", raw)
		}
		verb := raw[i]
		i++
		switch verb {
		case 'd', 'f', 'c', 's':
			p.segs = append(p.segs, segment{verb: verb, width: width})
		default:
			return Pattern{}, fmt.Errorf("pattern %q has unsupported verb %%%c", raw, verb)
		}
	}
	if lit.Len() > 0 {
		p.segs = append(p.segs, segment{literal: lit.String()})
	}
	return p, nil
}

// MustPattern compiles a pattern and panics on error.  For use with the
// static command table, which is validated by tests.
func MustPattern(raw string) Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match scans a fragment against the pattern.  ok is true only when every
// typed field parses, no field is empty, and the whole fragment is
// consumed.
func (p Pattern) Match(frag string) (data []Datum, ok bool) {
	if p.Empty() {
		return nil, false
	}
	pos := 0
	for si, seg := range p.segs {
		if seg.verb == 0 {
			if !strings.HasPrefix(frag[pos:], seg.literal) {
				return nil, false
			}
			pos += len(seg.literal)
			continue
		}
		switch seg.verb {
		case 'd':
			v, n := scanInt(frag[pos:], seg.width)
			if n == 0 {
				return nil, false
			}
			data = append(data, Datum{K: KindInt, I: v})
			pos += n
		case 'f':
			v, n := scanFloat(frag[pos:])
			if n == 0 {
				return nil, false
			}
			data = append(data, Datum{K: KindFloat, F: v})
			pos += n
		case 'c':
			if pos >= len(frag) {
				return nil, false
			}
			data = append(data, Datum{K: KindChar, C: frag[pos]})
			pos++
		case 's':
			end := len(frag)
			if si+1 < len(p.segs) && p.segs[si+1].verb == 0 {
				idx := strings.Index(frag[pos:], p.segs[si+1].literal)
				if idx < 0 {
					return nil, false
				}
				end = pos + idx
			}
			if end == pos {
				return nil, false
			}
			data = append(data, Datum{K: KindString, S: frag[pos:end]})
			pos = end
		}
	}
	if pos != len(frag) {
		return nil, false
	}
	return data, true
}

// scanInt consumes an optionally signed integer from the head of s,
// reading at most width characters when width > 0 (the sign counts
// toward the width, scanf style).  n is the number of characters
// consumed, zero on failure.
func scanInt(s string, width int) (v int64, n int) {
	limit := len(s)
	if width > 0 && width < limit {
		limit = width
	}
	i := 0
	neg := false
	if i < limit && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	start := i
	for i < limit && s[i] >= '0' && s[i] <= '9' {
		v = v*10 + int64(s[i]-'0')
		i++
	}
	if i == start {
		return 0, 0
	}
	if neg {
		v = -v
	}
	return v, i
}

// scanFloat consumes an optionally signed decimal number from the head
// of s.  n is the number of characters consumed, zero on failure.
func scanFloat(s string) (v float64, n int) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0, 0
	}
	f, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, 0
	}
	return f, i
}
