package metric

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultFallbackState is reported when a value matches no mapped state.
const DefaultFallbackState = "unknown"

// StateMapping assigns the text values of an attribute to named states.
type StateMapping struct {
	// States maps a state name to the attribute values that select it.
	States map[string][]string
	// Fallback is the catch-all state. Empty means DefaultFallbackState.
	Fallback string

	index map[string]string
}

func (m *StateMapping) fallback() string {
	if m.Fallback == "" {
		return DefaultFallbackState
	}
	return m.Fallback
}

func (m *StateMapping) validate() error {
	if len(m.States) == 0 {
		return errors.New("state mapping has no states")
	}
	if _, ok := m.States[m.fallback()]; ok {
		return fmt.Errorf("fallback state %q is also mapped", m.fallback())
	}

	m.index = make(map[string]string)
	for state, values := range m.States {
		if state == "" {
			return errors.New("empty state name")
		}
		if len(values) == 0 {
			return fmt.Errorf("state %q has no values", state)
		}
		for _, v := range values {
			if prev, dup := m.index[v]; dup {
				return fmt.Errorf("value %q maps to states %q and %q", v, prev, state)
			}
			m.index[v] = state
		}
	}
	return nil
}

// StateOf returns the state selected by value.
func (m *StateMapping) StateOf(value string) string {
	if s, ok := m.index[value]; ok {
		return s
	}
	return m.fallback()
}

// Names returns the mapped states sorted, followed by the fallback.
func (m *StateMapping) Names() []string {
	names := make([]string, 0, len(m.States)+1)
	for s := range m.States {
		names = append(names, s)
	}
	sort.Strings(names)
	return append(names, m.fallback())
}

// ExpandState turns a state extractor into one up/down counter extractor
// per state. Each reports 1 while its state is active and 0 otherwise, with
// the state tag set to the state name. Non-state extractors are returned
// unchanged.
func ExpandState(e *Extractor) ([]*Extractor, error) {
	if e.info.Kind != KindState {
		return []*Extractor{e}, nil
	}
	if e.states == nil {
		return nil, fmt.Errorf("metric %q: state metric without state mapping", e.info.Name)
	}

	info := e.info
	info.Kind = KindUpDownCounter

	names := e.states.Names()
	out := make([]*Extractor, 0, len(names))
	for _, state := range names {
		attrs := make([]AttributeSpec, len(e.attrs))
		for i, a := range e.attrs {
			if a.Extractor == nil {
				a.Extractor = Const(state)
			}
			attrs[i] = a
		}

		x := &Extractor{
			path:   e.path,
			info:   info,
			attrs:  attrs,
			states: e.states,
			state:  state,
		}
		if err := x.validate(); err != nil {
			return nil, fmt.Errorf("metric %q state %q: %w", info.Name, state, err)
		}
		out = append(out, x)
	}
	return out, nil
}
