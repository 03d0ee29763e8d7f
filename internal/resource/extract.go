package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/neox5/otelinsight/internal/attrpath"
)

var (
	// ErrNotNumeric marks a resolved value that cannot feed a metric yet.
	ErrNotNumeric = errors.New("attribute is not numeric")
	// ErrShape marks a path that narrows into a value that has no fields.
	ErrShape = errors.New("attribute path does not match value shape")
)

// AttributeInfo describes an attribute that resolved to a number.
type AttributeInfo struct {
	// Double is set when the observed value was fractional.
	Double      bool
	Description string
}

// Resolve reads the base attribute of path from b and narrows into it
// segment by segment. Composite values are narrowed by field name, Tabular
// values by row key.
func Resolve(ctx context.Context, b Backend, id Identity, path attrpath.Path) (Value, error) {
	v, err := b.Attribute(ctx, id, path.Name)
	if err != nil {
		return Value{}, fmt.Errorf("read %s of %s: %w", path.Name, id, err)
	}

	for i, seg := range path.Segments {
		switch v.Kind() {
		case KindComposite, KindTabular:
			next, ok := v.Field(seg)
			if !ok {
				return Value{}, fmt.Errorf("%s of %s: no %s %q at segment %d: %w",
					path, id, fieldNoun(v.Kind()), seg, i+1, ErrNotFound)
			}
			v = next
		default:
			return Value{}, fmt.Errorf("%s of %s: %s value at segment %d: %w",
				path, id, v.Kind(), i+1, ErrShape)
		}
	}
	return v, nil
}

func fieldNoun(k Kind) string {
	if k == KindTabular {
		return "row"
	}
	return "field"
}

// Validate resolves path and checks that it yields a number. Callers treat
// any error as "not eligible yet".
func Validate(ctx context.Context, b Backend, id Identity, path attrpath.Path) (AttributeInfo, error) {
	v, err := Resolve(ctx, b, id, path)
	if err != nil {
		return AttributeInfo{}, err
	}
	if !v.IsNumeric() {
		return AttributeInfo{}, fmt.Errorf("%s of %s is %s: %w", path, id, v.Kind(), ErrNotNumeric)
	}

	info := AttributeInfo{Double: v.Kind() == KindFloat}
	if d, ok := b.(Describer); ok {
		info.Description = d.Describe(id, path.Name)
	}
	return info, nil
}

// TextValue converts v for use as a measurement tag. Only text and boolean
// values convert; numbers, nulls and structured values yield false.
func TextValue(v Value) (string, bool) {
	switch v.Kind() {
	case KindText, KindBool:
		return v.String(), true
	default:
		return "", false
	}
}

// ResolveText resolves path and converts the result with TextValue.
func ResolveText(ctx context.Context, b Backend, id Identity, path attrpath.Path) (string, bool) {
	v, err := Resolve(ctx, b, id, path)
	if err != nil {
		return "", false
	}
	return TextValue(v)
}
