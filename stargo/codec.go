package stargo

import (
	"fmt"
	"strings"
)

// ErrArity is generated when Encode is given the wrong number of
// arguments for an operation's send template.  It is recoverable; the
// session logs it and skips the one operation.
type ErrArity struct {
	Op   string
	Want int
	Got  int
}

func (e ErrArity) Error() string {
	return fmt.Sprintf("operation %s takes %d argument(s), got %d", e.Op, e.Want, e.Got)
}

// ErrBadArgument is generated when an argument cannot be rendered by the
// operation's send template (wrong type for the verb).
type ErrBadArgument struct {
	Op       string
	Rendered string
}

func (e ErrBadArgument) Error() string {
	return fmt.Sprintf("operation %s arguments do not fit template: %s", e.Op, e.Rendered)
}

// NumArgs returns the number of positional slots in a send template.
func NumArgs(template string) int {
	n := 0
	for i := 0; i < len(template); i++ {
		if template[i] != '%' {
			continue
		}
		if i+1 < len(template) && template[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}

// Encode renders an operation and its arguments into one wire frame,
// including the ':' prefix and '#' terminator.
func Encode(op Operation, args ...interface{}) (string, error) {
	if want := NumArgs(op.Send); want != len(args) {
		return "", ErrArity{Op: op.Name, Want: want, Got: len(args)}
	}
	body := fmt.Sprintf(op.Send, args...)
	// Sprintf reports type mismatches in-band
	if strings.Contains(body, "%!") {
		return "", ErrBadArgument{Op: op.Name, Rendered: body}
	}
	return ":" + body + "#", nil
}

// Fragments splits raw received bytes into candidate reply fragments.
// The protocol terminates replies with '#', but the transport may
// concatenate several replies, split one across reads, or interleave
// whitespace; fragments are therefore split on both '#' and whitespace
// and empties discarded.  There is no guarantee fragment i answers
// request i.
func Fragments(raw []byte) []string {
	var out []string
	for _, piece := range strings.Split(string(raw), "#") {
		for _, f := range strings.Fields(piece) {
			out = append(out, f)
		}
	}
	return out
}
