// Package rules holds the built-in metric definition sets and the builder
// that turns them into metric definitions.
package rules

import (
	"errors"
	"fmt"

	"github.com/neox5/otelinsight/internal/attrpath"
	"github.com/neox5/otelinsight/internal/metric"
	"github.com/neox5/otelinsight/internal/resource"
	"github.com/neox5/otelinsight/internal/unit"
)

// Set is a named group of rules sharing a metric name prefix, defaults and
// tags.
type Set struct {
	Name   string
	Prefix string
	// Kind and Unit apply to mappings that leave them empty. Kind defaults
	// to gauge.
	Kind string
	Unit string
	// Attributes are added to every metric of the set. A mapping attribute
	// with the same name replaces the set attribute.
	Attributes []metric.AttributeSpec
	Rules      []Rule
}

// Rule maps attributes of the resources matched by Patterns to metrics.
type Rule struct {
	Patterns []string
	// Filter, when set, applies to every pattern.
	Filter   func(resource.Identity) bool
	Mappings []Mapping
}

// Mapping describes one metric.
type Mapping struct {
	// Attribute is the attribute path read from each resource.
	Attribute   string
	Metric      string
	Description string
	Kind        string
	Unit        string
	// SourceUnit is the unit the resource reports, when it differs from Unit.
	SourceUnit string
	Attributes []metric.AttributeSpec
	// States maps state names to attribute values for state metrics.
	States map[string][]string
}

// Build turns the set into definitions, one per rule.
func (s Set) Build(units *unit.Registry) ([]*metric.Definition, error) {
	defs := make([]*metric.Definition, 0, len(s.Rules))
	for i, r := range s.Rules {
		def, err := s.buildRule(r, units)
		if err != nil {
			return nil, fmt.Errorf("set %q rule %d: %w", s.Name, i, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (s Set) buildRule(r Rule, units *unit.Registry) (*metric.Definition, error) {
	group, err := resource.NewGroup(r.Patterns...)
	if err != nil {
		return nil, err
	}
	if r.Filter != nil {
		for i := range group {
			group[i] = group[i].WithFilter(r.Filter)
		}
	}

	extractors := make([]*metric.Extractor, 0, len(r.Mappings))
	for _, m := range r.Mappings {
		e, err := s.buildMapping(m, units)
		if err != nil {
			return nil, fmt.Errorf("mapping %q: %w", m.Attribute, err)
		}
		extractors = append(extractors, e)
	}
	return metric.NewDefinition(group, extractors...)
}

func (s Set) buildMapping(m Mapping, units *unit.Registry) (*metric.Extractor, error) {
	path, err := attrpath.Parse(m.Attribute)
	if err != nil {
		return nil, err
	}
	if m.Metric == "" {
		return nil, errors.New("empty metric name")
	}

	kindName := firstNonEmpty(m.Kind, s.Kind, metric.KindGauge.String())
	kind, err := metric.ParseKind(kindName)
	if err != nil {
		return nil, err
	}

	info := metric.Info{
		Name:        s.Prefix + m.Metric,
		Description: m.Description,
		Unit:        firstNonEmpty(m.Unit, s.Unit),
		SourceUnit:  m.SourceUnit,
		Kind:        kind,
	}

	var opts []metric.Option
	if info.SourceUnit != "" && info.SourceUnit != info.Unit {
		if units == nil {
			return nil, fmt.Errorf("unit %q -> %q: no unit registry", info.SourceUnit, info.Unit)
		}
		conv, err := units.Lookup(info.SourceUnit, info.Unit)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			opts = append(opts, metric.WithConverter(conv))
		}
	}
	if len(m.States) > 0 {
		opts = append(opts, metric.WithStates(metric.StateMapping{States: m.States}))
	}

	return metric.NewExtractor(path, info, mergeAttributes(s.Attributes, m.Attributes), opts...)
}

// mergeAttributes keeps the order of base, replacing entries overridden by
// name, and appends the remaining overrides.
func mergeAttributes(base, override []metric.AttributeSpec) []metric.AttributeSpec {
	byName := make(map[string]metric.AttributeSpec, len(override))
	for _, a := range override {
		byName[a.Name] = a
	}

	out := make([]metric.AttributeSpec, 0, len(base)+len(override))
	used := make(map[string]bool, len(override))
	for _, a := range base {
		if o, ok := byName[a.Name]; ok {
			out = append(out, o)
			used[a.Name] = true
			continue
		}
		out = append(out, a)
	}
	for _, a := range override {
		if !used[a.Name] {
			out = append(out, a)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Build builds the named built-in sets in order.
func Build(names []string, units *unit.Registry) ([]*metric.Definition, error) {
	var defs []*metric.Definition
	for _, name := range names {
		set, ok := Builtin(name)
		if !ok {
			return nil, fmt.Errorf("unknown rule set %q", name)
		}
		d, err := set.Build(units)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d...)
	}
	return defs, nil
}
