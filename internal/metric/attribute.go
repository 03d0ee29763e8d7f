package metric

import (
	"context"
	"strings"

	"github.com/neox5/otelinsight/internal/attrpath"
	"github.com/neox5/otelinsight/internal/resource"
)

// AttributeExtractor produces the value of a measurement tag for one
// resource. A false result omits the tag.
type AttributeExtractor interface {
	Extract(ctx context.Context, b resource.Backend, id resource.Identity) (string, bool)
}

// AttributeSpec names a measurement tag and how its value is obtained. A
// nil Extractor marks the state tag of a state metric.
type AttributeSpec struct {
	Name      string
	Extractor AttributeExtractor
}

// StateTag returns the spec of the tag that carries the state name.
func StateTag(name string) AttributeSpec {
	return AttributeSpec{Name: name}
}

// Tag is a shorthand for AttributeSpec{name, e}.
func Tag(name string, e AttributeExtractor) AttributeSpec {
	return AttributeSpec{Name: name, Extractor: e}
}

type constant string

func (c constant) Extract(context.Context, resource.Backend, resource.Identity) (string, bool) {
	return string(c), true
}

// Const always yields v.
func Const(v string) AttributeExtractor { return constant(v) }

type property string

func (p property) Extract(_ context.Context, _ resource.Backend, id resource.Identity) (string, bool) {
	return id.Property(string(p))
}

// FromProperty yields an identity property of the resource.
func FromProperty(key string) AttributeExtractor { return property(key) }

type attributeRef struct {
	path attrpath.Path
}

func (a attributeRef) Extract(ctx context.Context, b resource.Backend, id resource.Identity) (string, bool) {
	return resource.ResolveText(ctx, b, id, a.path)
}

// FromAttribute yields a resource attribute converted to text.
func FromAttribute(path attrpath.Path) AttributeExtractor { return attributeRef{path: path} }

type lowercase struct {
	inner AttributeExtractor
}

func (l lowercase) Extract(ctx context.Context, b resource.Backend, id resource.Identity) (string, bool) {
	v, ok := l.inner.Extract(ctx, b, id)
	if !ok {
		return "", false
	}
	return strings.ToLower(v), true
}

// Lowercase lower-cases the value produced by e.
func Lowercase(e AttributeExtractor) AttributeExtractor {
	if c, ok := e.(constant); ok {
		return constant(strings.ToLower(string(c)))
	}
	return lowercase{inner: e}
}

// constValue reports the fixed value of e, if e is a constant.
func constValue(e AttributeExtractor) (string, bool) {
	c, ok := e.(constant)
	return string(c), ok
}
