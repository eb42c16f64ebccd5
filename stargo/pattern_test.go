package stargo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompilePatternFieldCount(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"1", 0},
		{"%1d", 1},
		{"RD%8d%8d", 2},
		{"%2d:%2d:%2d", 3},
		{"Z1%1d%1d%1d", 3},
		{"%+3d*%2d:%2d", 3},
		{"p%c", 1},
		{"%s", 1},
		{"100%%", 0},
	}
	for _, c := range cases {
		p, err := CompilePattern(c.raw)
		if err != nil {
			t.Errorf("CompilePattern(%q): %v", c.raw, err)
			continue
		}
		if got := p.NumFields(); got != c.want {
			t.Errorf("CompilePattern(%q).NumFields() = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestMatchPosition(t *testing.T) {
	p := MustPattern("RD%8d%8d")
	data, ok := p.Match("RD00032463-01050")
	if !ok {
		t.Fatal("position reply did not match")
	}
	if len(data) != 2 {
		t.Fatalf("got %d fields, want 2", len(data))
	}
	if data[0].Int() != 32463 || data[1].Int() != -1050 {
		t.Errorf("got (%d, %d), want (32463, -1050)", data[0].Int(), data[1].Int())
	}
}

func TestMatchSexagesimal(t *testing.T) {
	p := MustPattern("%2d:%2d:%2d")
	data, ok := p.Match("13:42:07")
	if !ok {
		t.Fatal("no match")
	}
	got := []int64{data[0].Int(), data[1].Int(), data[2].Int()}
	if diff := cmp.Diff([]int64{13, 42, 7}, got); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchSignedDeclination(t *testing.T) {
	p := MustPattern("%+3d*%2d:%2d")
	data, ok := p.Match("-05*30:00")
	if !ok {
		t.Fatal("no match")
	}
	if data[0].Int() != -5 || data[1].Int() != 30 || data[2].Int() != 0 {
		t.Errorf("got (%d, %d, %d), want (-5, 30, 0)",
			data[0].Int(), data[1].Int(), data[2].Int())
	}
}

func TestMatchRequiresFullConsumption(t *testing.T) {
	p := MustPattern("p%c")
	if _, ok := p.Match("p2X"); ok {
		t.Error("trailing bytes should not match")
	}
	if _, ok := p.Match("p"); ok {
		t.Error("missing field should not match")
	}
	if _, ok := p.Match("q2"); ok {
		t.Error("wrong literal prefix should not match")
	}
}

func TestMatchStatusLine(t *testing.T) {
	p := MustPattern("Z1%1d%1d%1d")
	data, ok := p.Match("Z1013")
	if !ok {
		t.Fatal("no match")
	}
	if data[0].Int() != 0 || data[1].Int() != 1 || data[2].Int() != 3 {
		t.Errorf("got (%d, %d, %d), want (0, 1, 3)",
			data[0].Int(), data[1].Int(), data[2].Int())
	}
	if _, ok := p.Match("Z101"); ok {
		t.Error("short status line should not match")
	}
}

func TestMatchString(t *testing.T) {
	p := MustPattern("%s")
	data, ok := p.Match("StarGo")
	if !ok {
		t.Fatal("no match")
	}
	if data[0].String() != "StarGo" {
		t.Errorf("got %q", data[0].String())
	}
	if _, ok := p.Match(""); ok {
		t.Errorf("%%s must not match the empty fragment")
	}
}

func TestMatchFloat(t *testing.T) {
	p := MustPattern("%f")
	data, ok := p.Match("-12.5")
	if !ok {
		t.Fatal("no match")
	}
	if data[0].Float() != -12.5 {
		t.Errorf("got %v, want -12.5", data[0].Float())
	}
}

func TestMatchEmptyPattern(t *testing.T) {
	p := MustPattern("")
	if !p.Empty() {
		t.Error("empty pattern should report Empty")
	}
	if _, ok := p.Match("anything"); ok {
		t.Error("empty pattern must not match fragments")
	}
}

func TestWidthBoundsSign(t *testing.T) {
	// the sign character counts toward the field width
	p := MustPattern("%4d%4d")
	data, ok := p.Match("-1231234")
	if !ok {
		t.Fatal("no match")
	}
	if data[0].Int() != -123 || data[1].Int() != 1234 {
		t.Errorf("got (%d, %d), want (-123, 1234)", data[0].Int(), data[1].Int())
	}
}
