package resource

import (
	"math"
	"sort"
	"strconv"
)

// Kind identifies the shape held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindComposite
	KindTabular
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindComposite:
		return "composite"
	case KindTabular:
		return "tabular"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an attribute value read from a resource. The zero Value is Null.
//
// Composite values hold named fields. Tabular values hold rows keyed by a
// string index; each row is usually a Composite.
type Value struct {
	kind   Kind
	i      int64
	f      float64
	s      string
	fields map[string]Value
}

// Null returns the absent value.
func Null() Value { return Value{} }

// Int returns an integral value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Uint returns an integral value, saturating at math.MaxInt64.
func Uint(v uint64) Value {
	if v > math.MaxInt64 {
		return Int(math.MaxInt64)
	}
	return Int(int64(v))
}

// Float returns a fractional value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i: i}
}

// Text returns a string value. Enum-like values are reported as Text.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Composite returns a record of named fields.
func Composite(fields map[string]Value) Value {
	return Value{kind: KindComposite, fields: fields}
}

// Tabular returns a collection of rows keyed by index.
func Tabular(rows map[string]Value) Value {
	return Value{kind: KindTabular, fields: rows}
}

// Kind returns the shape of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumeric reports whether v is an Int or a Float.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// AsInt returns the integral value. Floats are truncated.
func (v Value) AsInt() int64 {
	if v.kind == KindFloat {
		return int64(v.f)
	}
	return v.i
}

// AsFloat returns the numeric value as float64.
func (v Value) AsFloat() float64 {
	if v.kind == KindFloat {
		return v.f
	}
	return float64(v.i)
}

// AsBool returns the boolean value.
func (v Value) AsBool() bool { return v.kind == KindBool && v.i != 0 }

// AsText returns the string value.
func (v Value) AsText() string { return v.s }

// Field returns the named field of a Composite or the keyed row of a
// Tabular value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindComposite && v.kind != KindTabular {
		return Value{}, false
	}
	f, ok := v.fields[name]
	return f, ok
}

// Keys returns the sorted field names or row keys.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String formats scalar values canonically. Null and structured values
// format as their kind.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindText:
		return v.s
	default:
		return "<" + v.kind.String() + ">"
	}
}
