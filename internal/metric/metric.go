// Package metric describes what to collect from managed resources and
// registers the matching asynchronous OpenTelemetry instruments.
package metric

import (
	"fmt"
	"strings"
)

// Kind defines the semantic type of a metric.
type Kind int

const (
	KindGauge Kind = iota
	KindCounter
	KindUpDownCounter
	// KindState is reported as one up/down counter per state. It is never
	// registered as an instrument; see ExpandState.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	case KindUpDownCounter:
		return "updowncounter"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the lower-case kind names, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "gauge":
		return KindGauge, nil
	case "counter":
		return KindCounter, nil
	case "updowncounter":
		return KindUpDownCounter, nil
	case "state":
		return KindState, nil
	default:
		return 0, fmt.Errorf("unknown metric kind %q", s)
	}
}

// Info holds the instrument metadata of one metric.
type Info struct {
	Name        string
	Description string
	// Unit is the unit the metric is reported in.
	Unit string
	// SourceUnit is the unit the resource reports. When set and different
	// from Unit, the extractor needs a converter.
	SourceUnit string
	Kind       Kind
}

// needsConversion reports whether values must be converted before they are
// observed.
func (i Info) needsConversion() bool {
	return i.SourceUnit != "" && i.Unit != "" && i.SourceUnit != i.Unit
}
