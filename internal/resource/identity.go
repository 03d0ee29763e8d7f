package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Property is one key/value pair of an Identity.
type Property struct {
	Key   string
	Value string
}

// Identity locates a managed resource: a domain plus key/value properties.
// Its canonical text form is "domain:k1=v1,k2=v2" with keys sorted.
type Identity struct {
	domain    string
	props     []Property
	canonical string
}

// NewIdentity builds an identity from a domain and its properties.
func NewIdentity(domain string, props map[string]string) (Identity, error) {
	if domain == "" {
		return Identity{}, fmt.Errorf("identity: empty domain")
	}
	if strings.ContainsAny(domain, ":,=") {
		return Identity{}, fmt.Errorf("identity: invalid domain %q", domain)
	}
	if len(props) == 0 {
		return Identity{}, fmt.Errorf("identity %q: no properties", domain)
	}

	list := make([]Property, 0, len(props))
	for k, v := range props {
		if k == "" || strings.ContainsAny(k, ":,=*?") {
			return Identity{}, fmt.Errorf("identity %q: invalid property key %q", domain, k)
		}
		if v == "" || strings.ContainsAny(v, ",=") {
			return Identity{}, fmt.Errorf("identity %q: invalid value %q for property %q", domain, v, k)
		}
		list = append(list, Property{Key: k, Value: v})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })

	var b strings.Builder
	b.WriteString(domain)
	b.WriteByte(':')
	for i, p := range list {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}

	return Identity{domain: domain, props: list, canonical: b.String()}, nil
}

// ParseIdentity parses the text form "domain:k1=v1,k2=v2".
func ParseIdentity(s string) (Identity, error) {
	domain, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("identity %q: missing ':'", s)
	}
	props, err := parseProperties(rest)
	if err != nil {
		return Identity{}, fmt.Errorf("identity %q: %w", s, err)
	}
	return NewIdentity(domain, props)
}

// MustParseIdentity is like ParseIdentity but panics on error.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func parseProperties(s string) (map[string]string, error) {
	props := make(map[string]string)
	if s == "" {
		return props, nil
	}
	for _, item := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("property %q: missing '='", item)
		}
		if _, dup := props[k]; dup {
			return nil, fmt.Errorf("duplicate property %q", k)
		}
		props[k] = v
	}
	return props, nil
}

// Domain returns the identity domain.
func (id Identity) Domain() string { return id.domain }

// Property returns the value of the named property.
func (id Identity) Property(key string) (string, bool) {
	i := sort.Search(len(id.props), func(i int) bool { return id.props[i].Key >= key })
	if i < len(id.props) && id.props[i].Key == key {
		return id.props[i].Value, true
	}
	return "", false
}

// Properties returns the properties sorted by key.
func (id Identity) Properties() []Property {
	out := make([]Property, len(id.props))
	copy(out, id.props)
	return out
}

// IsZero reports whether id was never initialized.
func (id Identity) IsZero() bool { return id.canonical == "" }

// String returns the canonical text form.
func (id Identity) String() string { return id.canonical }
