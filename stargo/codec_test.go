package stargo

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustLookup(t *testing.T, name string) Operation {
	t.Helper()
	op, ok := Lookup(name)
	if !ok {
		t.Fatalf("operation %s missing from registry", name)
	}
	return op
}

func TestEncodeSetDec(t *testing.T) {
	frame, err := Encode(mustLookup(t, OpSetDec), '+', 3, 12, 30)
	if err != nil {
		t.Fatal(err)
	}
	if frame != ":Sd +03*12:30#" {
		t.Errorf("Encode(set_dec, '+', 3, 12, 30) = %q, want %q", frame, ":Sd +03*12:30#")
	}
}

// The sign byte is a separate slot so sub-degree negative angles keep
// their sign even though the degrees field is zero.
func TestEncodeSetDecNegativeFraction(t *testing.T) {
	frame, err := Encode(mustLookup(t, OpSetDec), '-', 0, 30, 0)
	if err != nil {
		t.Fatal(err)
	}
	if frame != ":Sd -00*30:00#" {
		t.Errorf("Encode(set_dec, '-', 0, 30, 0) = %q, want %q", frame, ":Sd -00*30:00#")
	}
}

func TestEncodeNoArgs(t *testing.T) {
	frame, err := Encode(mustLookup(t, OpGetRADec))
	if err != nil {
		t.Fatal(err)
	}
	if frame != ":X590#" {
		t.Errorf("got %q", frame)
	}
}

func TestEncodeArity(t *testing.T) {
	_, err := Encode(mustLookup(t, OpSetDec), 3)
	var arity ErrArity
	if !errors.As(err, &arity) {
		t.Fatalf("want ErrArity, got %v", err)
	}
	if arity.Want != 4 || arity.Got != 1 {
		t.Errorf("arity = %d/%d, want 4/1", arity.Got, arity.Want)
	}
}

func TestEncodeBadArgument(t *testing.T) {
	_, err := Encode(mustLookup(t, OpSetDec), "a", "b", "c", "d")
	var bad ErrBadArgument
	if !errors.As(err, &bad) {
		t.Fatalf("want ErrBadArgument, got %v", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("no_such_op"); ok {
		t.Error("Lookup accepted an unknown name")
	}
}

func TestFragments(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"13:42:07#", []string{"13:42:07"}},
		{"13:42:07#+89*59:59#", []string{"13:42:07", "+89*59:59"}},
		{"Z1013#RD00032463-01050#", []string{"Z1013", "RD00032463-01050"}},
		{"#", nil},
		{"", nil},
		{"  1#\r\n0#", []string{"1", "0"}},
	}
	for _, c := range cases {
		got := Fragments([]byte(c.in))
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("Fragments(%q) mismatch (-want +got):\n%s", c.in, diff)
		}
	}
}

// Every operation's reply pattern must compile; the table is static so a
// bad verb is a programming error caught here rather than at poll time.
func TestAllPatternsCompile(t *testing.T) {
	for _, op := range Commands {
		if _, err := CompilePattern(op.Recv); err != nil {
			t.Errorf("%s: recv pattern %q: %v", op.Name, op.Recv, err)
		}
	}
}

func TestRegistryNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, op := range Commands {
		if seen[op.Name] {
			t.Errorf("duplicate operation name %s", op.Name)
		}
		seen[op.Name] = true
	}
}

// Encoding every operation with benign arguments must produce a frame that
// starts with ':' and ends with a single '#'.
func TestEncodeAllOperations(t *testing.T) {
	for _, op := range Commands {
		p, err := CompilePattern(op.Send)
		if err != nil {
			t.Errorf("%s: send template %q: %v", op.Name, op.Send, err)
			continue
		}
		var args []interface{}
		for _, seg := range p.segs {
			switch seg.verb {
			case 'd':
				args = append(args, 1)
			case 'f':
				args = append(args, 1.0)
			case 'c':
				args = append(args, 'e')
			case 's':
				args = append(args, "x")
			}
		}
		frame, err := Encode(op, args...)
		if err != nil {
			t.Errorf("%s: %v", op.Name, err)
			continue
		}
		if !strings.HasPrefix(frame, ":") || !strings.HasSuffix(frame, "#") {
			t.Errorf("%s: malformed frame %q", op.Name, frame)
		}
		if strings.Count(frame, "#") != 1 {
			t.Errorf("%s: frame %q contains an embedded terminator", op.Name, frame)
		}
	}
}
