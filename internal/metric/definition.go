package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neox5/otelinsight/internal/resource"
)

// Definition binds extractors to the resources selected by a group.
type Definition struct {
	group      resource.Group
	extractors []*Extractor
}

// NewDefinition expands state extractors and rejects extractors that would
// report the same metric name with the same tag set.
func NewDefinition(group resource.Group, extractors ...*Extractor) (*Definition, error) {
	if len(group) == 0 {
		return nil, errors.New("definition: no resource patterns")
	}
	if len(extractors) == 0 {
		return nil, fmt.Errorf("definition %s: no metrics", group)
	}

	var expanded []*Extractor
	for _, e := range extractors {
		if e == nil {
			return nil, fmt.Errorf("definition %s: nil extractor", group)
		}
		xs, err := ExpandState(e)
		if err != nil {
			return nil, fmt.Errorf("definition %s: %w", group, err)
		}
		expanded = append(expanded, xs...)
	}

	seen := make(map[string]bool, len(expanded))
	for _, e := range expanded {
		key := identityKey(e)
		if seen[key] {
			return nil, fmt.Errorf("definition %s: duplicate metric %s", group, key)
		}
		seen[key] = true
	}

	return &Definition{group: group, extractors: expanded}, nil
}

// Group returns the resource patterns.
func (d *Definition) Group() resource.Group { return d.group }

// Extractors returns the extractors in definition order, state metrics
// already expanded.
func (d *Definition) Extractors() []*Extractor { return d.extractors }

// identityKey is the metric name plus the sorted tag names, with the value
// for constant tags: "name{a,b=x}".
func identityKey(e *Extractor) string {
	tags := make([]string, 0, len(e.attrs))
	for _, a := range e.attrs {
		if v, ok := constValue(a.Extractor); ok {
			tags = append(tags, a.Name+"="+v)
			continue
		}
		tags = append(tags, a.Name)
	}
	sort.Strings(tags)
	return e.info.Name + "{" + strings.Join(tags, ",") + "}"
}
