// Package resource models managed resources and reads attribute values
// from the backends that expose them.
package resource

//go:generate mockgen -destination=mock_resource/backend_mock.go -package=mock_resource . Backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by backends when a resource or attribute does not
// exist (anymore).
var ErrNotFound = errors.New("resource not found")

// Backend enumerates resources and reads their attributes.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Query returns the identities currently matching p.
	Query(ctx context.Context, p Pattern) ([]Identity, error)
	// Attribute reads one attribute of a resource.
	Attribute(ctx context.Context, id Identity, name string) (Value, error)
}

// Describer is implemented by backends that can report attribute
// descriptions.
type Describer interface {
	Describe(id Identity, name string) string
}
