// Package attrpath parses attribute references such as "Usage.used" into a
// base attribute name and the chain of nested lookups applied to its value.
package attrpath

import (
	"errors"
	"fmt"
	"strings"
)

const (
	separator = '.'
	escape    = '\\'
)

// ErrSyntax is wrapped by every error returned from Parse.
var ErrSyntax = errors.New("invalid attribute path")

// Path is a parsed attribute reference.
type Path struct {
	// Name is the attribute read from the resource.
	Name string
	// Segments are applied in order to narrow into composite or tabular values.
	Segments []string
}

// Parse splits raw on unescaped dots. A backslash escapes a dot or another
// backslash; any other escape and any empty segment is an error.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, fmt.Errorf("%w: empty", ErrSyntax)
	}

	var (
		parts []string
		cur   strings.Builder
	)

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch c {
		case escape:
			if i+1 == len(raw) {
				return Path{}, fmt.Errorf("%w: %q: dangling escape at offset %d", ErrSyntax, raw, i)
			}
			next := raw[i+1]
			if next != escape && next != separator {
				return Path{}, fmt.Errorf("%w: %q: invalid escape %q at offset %d", ErrSyntax, raw, "\\"+string(next), i)
			}
			cur.WriteByte(next)
			i++
		case separator:
			if cur.Len() == 0 {
				return Path{}, fmt.Errorf("%w: %q: empty segment at offset %d", ErrSyntax, raw, i)
			}
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}

	if cur.Len() == 0 {
		return Path{}, fmt.Errorf("%w: %q: empty trailing segment", ErrSyntax, raw)
	}
	parts = append(parts, cur.String())

	return Path{Name: parts[0], Segments: parts[1:]}, nil
}

// MustParse is like Parse but panics on error. Intended for paths that are
// compiled into the binary.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// IsNested reports whether the path narrows into the attribute value.
func (p Path) IsNested() bool {
	return len(p.Segments) > 0
}

// String returns the escaped form of the path. Parse(p.String()) yields p.
func (p Path) String() string {
	var b strings.Builder
	writeEscaped(&b, p.Name)
	for _, s := range p.Segments {
		b.WriteByte(separator)
		writeEscaped(&b, s)
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == separator || s[i] == escape {
			b.WriteByte(escape)
		}
		b.WriteByte(s[i])
	}
}
