package resource

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
)

// Attribute is one readable attribute of an in-memory resource.
type Attribute struct {
	Read        func() Value
	Description string
}

// Static returns an attribute that always reads v.
func Static(v Value, description string) Attribute {
	return Attribute{Read: func() Value { return v }, Description: description}
}

// Registry is an in-memory Backend. Resources are registered and
// unregistered at runtime; attribute reads call back into the owner.
type Registry struct {
	name string

	mu        sync.RWMutex
	resources map[string]registered
}

type registered struct {
	id    Identity
	attrs map[string]Attribute
}

var (
	_ Backend   = (*Registry)(nil)
	_ Describer = (*Registry)(nil)
)

// NewRegistry creates an empty registry reported under name.
func NewRegistry(name string) *Registry {
	return &Registry{
		name:      name,
		resources: make(map[string]registered),
	}
}

// Register adds a resource. Registering an identity twice is an error.
func (r *Registry) Register(id Identity, attrs map[string]Attribute) error {
	if id.IsZero() {
		return fmt.Errorf("register: zero identity")
	}
	for name, a := range attrs {
		if a.Read == nil {
			return fmt.Errorf("register %s: attribute %q has no reader", id, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.String()
	if _, exists := r.resources[key]; exists {
		return fmt.Errorf("register %s: already registered", id)
	}
	r.resources[key] = registered{id: id, attrs: maps.Clone(attrs)}
	return nil
}

// Unregister removes a resource and reports whether it was present.
func (r *Registry) Unregister(id Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.String()
	_, ok := r.resources[key]
	delete(r.resources, key)
	return ok
}

// Name implements Backend.
func (r *Registry) Name() string { return r.name }

// Query implements Backend. Results are sorted by canonical identity.
func (r *Registry) Query(_ context.Context, p Pattern) ([]Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Identity
	for _, res := range r.resources {
		if p.Matches(res.id) {
			out = append(out, res.id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// Attribute implements Backend.
func (r *Registry) Attribute(_ context.Context, id Identity, name string) (Value, error) {
	a, err := r.lookup(id, name)
	if err != nil {
		return Value{}, err
	}
	return a.Read(), nil
}

// Describe implements Describer.
func (r *Registry) Describe(id Identity, name string) string {
	a, err := r.lookup(id, name)
	if err != nil {
		return ""
	}
	return a.Description
}

func (r *Registry) lookup(id Identity, name string) (Attribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.resources[id.String()]
	if !ok {
		return Attribute{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	a, ok := res.attrs[name]
	if !ok {
		return Attribute{}, fmt.Errorf("%s has no attribute %q: %w", id, name, ErrNotFound)
	}
	return a, nil
}
