// Package goruntime exposes runtime/metrics as managed resources.
//
// Every metric "/category/a/b:unit" belongs to the resource
// "go.runtime:type=category". The attribute "a" is a composite holding the
// field "b:unit"; metrics directly below the category, such as
// "/sched/goroutines:goroutines", are scalar attributes named
// "goroutines:goroutines".
package goruntime

import (
	"context"
	"fmt"
	"runtime/metrics"
	"sort"
	"strings"

	"github.com/neox5/otelinsight/internal/resource"
)

// Domain is the identity domain of runtime resources.
const Domain = "go.runtime"

type allFunc = func() []metrics.Description
type readFunc = func([]metrics.Sample)

// leaf is one runtime metric below an attribute.
type leaf struct {
	name string
	// fields leads from the attribute value to the metric; empty for
	// scalar attributes.
	fields []string
}

type category struct {
	id     resource.Identity
	attrs  map[string][]leaf
	descs  map[string]string
	sorted []string
}

// Backend reads runtime/metrics on every attribute access.
type Backend struct {
	readFunc   readFunc
	categories map[string]*category
}

var (
	_ resource.Backend   = (*Backend)(nil)
	_ resource.Describer = (*Backend)(nil)
)

// New indexes the metrics supported by the running Go version.
func New() *Backend {
	return newBackend(metrics.All, metrics.Read)
}

func newBackend(af allFunc, rf readFunc) *Backend {
	b := &Backend{
		readFunc:   rf,
		categories: make(map[string]*category),
	}
	for _, d := range af() {
		b.index(d)
	}
	for _, c := range b.categories {
		for name := range c.attrs {
			c.sorted = append(c.sorted, name)
		}
		sort.Strings(c.sorted)
	}
	return b
}

func (b *Backend) index(d metrics.Description) {
	parts := strings.Split(strings.TrimPrefix(d.Name, "/"), "/")
	if len(parts) < 2 {
		return
	}

	c, ok := b.categories[parts[0]]
	if !ok {
		id, err := resource.NewIdentity(Domain, map[string]string{"type": parts[0]})
		if err != nil {
			return
		}
		c = &category{
			id:    id,
			attrs: make(map[string][]leaf),
			descs: make(map[string]string),
		}
		b.categories[parts[0]] = c
	}

	attr := parts[1]
	c.attrs[attr] = append(c.attrs[attr], leaf{name: d.Name, fields: parts[2:]})
	if len(parts) == 2 {
		c.descs[attr] = d.Description
	}
}

// Name implements resource.Backend.
func (b *Backend) Name() string { return "goruntime" }

// Query implements resource.Backend.
func (b *Backend) Query(_ context.Context, p resource.Pattern) ([]resource.Identity, error) {
	var out []resource.Identity
	for _, c := range b.categories {
		if p.Matches(c.id) {
			out = append(out, c.id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Attribute implements resource.Backend. Histograms read as Null.
func (b *Backend) Attribute(_ context.Context, id resource.Identity, name string) (resource.Value, error) {
	c, err := b.category(id)
	if err != nil {
		return resource.Value{}, err
	}
	leaves, ok := c.attrs[name]
	if !ok {
		return resource.Value{}, fmt.Errorf("%s has no attribute %q: %w", id, name, resource.ErrNotFound)
	}

	samples := make([]metrics.Sample, len(leaves))
	for i, l := range leaves {
		samples[i].Name = l.name
	}
	b.readFunc(samples)

	if len(leaves) == 1 && len(leaves[0].fields) == 0 {
		return convert(samples[0].Value), nil
	}

	root := newNode()
	for i, l := range leaves {
		if len(l.fields) == 0 {
			continue
		}
		root.insert(l.fields, convert(samples[i].Value))
	}
	return root.value(), nil
}

// Describe implements resource.Describer for scalar attributes.
func (b *Backend) Describe(id resource.Identity, name string) string {
	c, err := b.category(id)
	if err != nil {
		return ""
	}
	return c.descs[name]
}

// Attributes lists the attribute names of a runtime resource.
func (b *Backend) Attributes(id resource.Identity) []string {
	c, err := b.category(id)
	if err != nil {
		return nil
	}
	return append([]string(nil), c.sorted...)
}

func (b *Backend) category(id resource.Identity) (*category, error) {
	if id.Domain() != Domain {
		return nil, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
	}
	t, _ := id.Property("type")
	c, ok := b.categories[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
	}
	return c, nil
}

func convert(v metrics.Value) resource.Value {
	switch v.Kind() {
	case metrics.KindUint64:
		return resource.Uint(v.Uint64())
	case metrics.KindFloat64:
		return resource.Float(v.Float64())
	default:
		// Histograms and unsupported metrics.
		return resource.Null()
	}
}

type node struct {
	leaf     resource.Value
	isLeaf   bool
	children map[string]*node
}

func newNode() *node { return &node{children: make(map[string]*node)} }

func (n *node) insert(fields []string, v resource.Value) {
	cur := n
	for _, f := range fields {
		next, ok := cur.children[f]
		if !ok {
			next = newNode()
			cur.children[f] = next
		}
		cur = next
	}
	cur.leaf, cur.isLeaf = v, true
}

func (n *node) value() resource.Value {
	if n.isLeaf {
		return n.leaf
	}
	fields := make(map[string]resource.Value, len(n.children))
	for k, c := range n.children {
		fields[k] = c.value()
	}
	return resource.Composite(fields)
}
