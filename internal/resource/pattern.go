package resource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern selects identities by domain and property globs. Globs support
// '*' and '?'. A trailing ",*" in the text form allows identities to carry
// properties the pattern does not name; without it the property keys must
// match exactly.
type Pattern struct {
	domain       string
	domainGlob   glob.Glob
	props        []propertyGlob
	propertyList bool
	filter       func(Identity) bool
	text         string
}

type propertyGlob struct {
	key   string
	value string
	glob  glob.Glob
}

// ParsePattern parses "domain:key=value,key2=*[,*]".
func ParsePattern(s string) (Pattern, error) {
	domain, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Pattern{}, fmt.Errorf("pattern %q: missing ':'", s)
	}
	if domain == "" {
		return Pattern{}, fmt.Errorf("pattern %q: empty domain", s)
	}
	if rest == "" {
		return Pattern{}, fmt.Errorf("pattern %q: empty property list", s)
	}

	dg, err := glob.Compile(domain)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: domain: %w", s, err)
	}
	p := Pattern{domain: domain, domainGlob: dg}

	seen := make(map[string]bool)
	for _, item := range strings.Split(rest, ",") {
		if item == "*" {
			p.propertyList = true
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" || v == "" {
			return Pattern{}, fmt.Errorf("pattern %q: invalid property %q", s, item)
		}
		if seen[k] {
			return Pattern{}, fmt.Errorf("pattern %q: duplicate property %q", s, k)
		}
		seen[k] = true

		g, err := glob.Compile(v)
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: property %q: %w", s, k, err)
		}
		p.props = append(p.props, propertyGlob{key: k, value: v, glob: g})
	}
	sort.Slice(p.props, func(i, j int) bool { return p.props[i].key < p.props[j].key })

	p.text = p.format()
	return p, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// WithFilter returns a copy of p that additionally requires f to accept
// the identity.
func (p Pattern) WithFilter(f func(Identity) bool) Pattern {
	p.filter = f
	return p
}

// Domain returns the domain glob.
func (p Pattern) Domain() string { return p.domain }

// MatchesDomain reports whether the domain glob accepts domain.
func (p Pattern) MatchesDomain(domain string) bool {
	return p.domainGlob != nil && p.domainGlob.Match(domain)
}

// Matches reports whether id satisfies the pattern and its filter.
func (p Pattern) Matches(id Identity) bool {
	if p.domainGlob == nil || id.IsZero() {
		return false
	}
	if !p.domainGlob.Match(id.Domain()) {
		return false
	}
	if !p.propertyList && len(id.props) != len(p.props) {
		return false
	}
	for _, pg := range p.props {
		v, ok := id.Property(pg.key)
		if !ok || !pg.glob.Match(v) {
			return false
		}
	}
	if p.filter != nil && !p.filter(id) {
		return false
	}
	return true
}

// String returns the normalized text form. Filters are not represented.
func (p Pattern) String() string { return p.text }

func (p Pattern) format() string {
	var b strings.Builder
	b.WriteString(p.domain)
	b.WriteByte(':')
	for i, pg := range p.props {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(pg.key)
		b.WriteByte('=')
		b.WriteString(pg.value)
	}
	if p.propertyList {
		if len(p.props) > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('*')
	}
	return b.String()
}

// Group is an ordered set of patterns combined by OR.
type Group []Pattern

// NewGroup parses each text pattern.
func NewGroup(patterns ...string) (Group, error) {
	g := make(Group, 0, len(patterns))
	for _, s := range patterns {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, err
		}
		g = append(g, p)
	}
	return g, nil
}

// MustGroup is like NewGroup but panics on error.
func MustGroup(patterns ...string) Group {
	g, err := NewGroup(patterns...)
	if err != nil {
		panic(err)
	}
	return g
}

// Matches reports whether any pattern matches id.
func (g Group) Matches(id Identity) bool {
	for _, p := range g {
		if p.Matches(id) {
			return true
		}
	}
	return false
}

// String joins the pattern texts with " | ".
func (g Group) String() string {
	parts := make([]string, len(g))
	for i, p := range g {
		parts[i] = p.String()
	}
	return strings.Join(parts, " | ")
}
