// Package unit converts measured values between units when a metric is
// declared in a different unit than its source reports.
package unit

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoConversion is returned by Lookup for an unregistered unit pair.
	ErrNoConversion = errors.New("no unit conversion")
	// ErrDuplicate is returned by Register when the pair already exists.
	ErrDuplicate = errors.New("unit conversion already registered")
	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("unit registry is frozen")
)

// Func converts a value from a source unit to a target unit.
type Func func(float64) float64

// Converter applies a registered conversion.
type Converter struct {
	source string
	target string
	fn     Func
}

// Convert applies the conversion to v.
func (c *Converter) Convert(v float64) float64 {
	return c.fn(v)
}

// Source returns the unit the converter reads.
func (c *Converter) Source() string { return c.source }

// Target returns the unit the converter produces.
func (c *Converter) Target() string { return c.target }

type pair struct {
	source string
	target string
}

// Registry holds unit conversions. Conversions are registered during startup;
// after Freeze the registry is read-only.
type Registry struct {
	mu          sync.RWMutex
	frozen      bool
	conversions map[pair]*Converter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conversions: make(map[pair]*Converter)}
}

// Default returns a frozen registry with the time and size conversions
// used by the built-in metric sets.
func Default() *Registry {
	r := NewRegistry()
	for _, c := range []struct {
		source, target string
		fn             Func
	}{
		{"ms", "s", func(v float64) float64 { return v / 1e3 }},
		{"us", "s", func(v float64) float64 { return v / 1e6 }},
		{"ns", "s", func(v float64) float64 { return v / 1e9 }},
		{"s", "ms", func(v float64) float64 { return v * 1e3 }},
		{"By", "KiBy", func(v float64) float64 { return v / 1024 }},
		{"By", "MiBy", func(v float64) float64 { return v / (1024 * 1024) }},
	} {
		// The table has no duplicates and the registry is not frozen yet.
		_ = r.Register(c.source, c.target, c.fn)
	}
	r.Freeze()
	return r
}

// Register adds a conversion from source to target.
func (r *Registry) Register(source, target string, fn Func) error {
	if source == "" || target == "" {
		return fmt.Errorf("register conversion %q -> %q: units must not be empty", source, target)
	}
	if fn == nil {
		return fmt.Errorf("register conversion %q -> %q: nil function", source, target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register conversion %q -> %q: %w", source, target, ErrFrozen)
	}
	key := pair{source, target}
	if _, exists := r.conversions[key]; exists {
		return fmt.Errorf("register conversion %q -> %q: %w", source, target, ErrDuplicate)
	}
	r.conversions[key] = &Converter{source: source, target: target, fn: fn}
	return nil
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the converter for source -> target. It returns nil, nil when
// either unit is empty, meaning no conversion was requested.
func (r *Registry) Lookup(source, target string) (*Converter, error) {
	if source == "" || target == "" {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conversions[pair{source, target}]
	if !ok {
		return nil, fmt.Errorf("%w from %q to %q", ErrNoConversion, source, target)
	}
	return c, nil
}
