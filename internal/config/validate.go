package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

// FieldError is one failed field constraint.
type FieldError struct {
	Field   string // e.g. "export.otel.port"
	Tag     string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// rule sets that need a backend
var ruleBackends = map[string]string{
	RulesRuntime: "runtime",
	RulesProcess: "process",
	RulesHost:    "host",
}

// Validate checks field constraints and cross-field consistency. All
// problems are reported, combined with multierr.
func Validate(cfg *Config) error {
	var err error

	if verr := validate.Struct(cfg); verr != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(verr, &fieldErrors) {
			return verr
		}
		for _, fe := range fieldErrors {
			err = multierr.Append(err, &FieldError{
				Field:   formatFieldName(fe.Namespace()),
				Tag:     fe.Tag(),
				Value:   fe.Value(),
				Message: translateError(fe),
			})
		}
	}

	for _, name := range cfg.Rules {
		backend, ok := ruleBackends[name]
		if !ok || backendEnabled(cfg.Backends, backend) {
			continue
		}
		var ctx resolveContext
		err = multierr.Append(err, ctx.push("rule set", name).error(
			fmt.Sprintf("backend %q is disabled", backend)))
	}

	return err
}

func backendEnabled(b BackendsConfig, name string) bool {
	switch name {
	case "runtime":
		return b.Runtime.Enabled
	case "process":
		return b.Process.Enabled
	case "host":
		return b.Host.Enabled
	}
	return false
}

// formatFieldName converts the validator field namespace to a config path.
// Example: "Config.Export.OTEL.Port" -> "export.otel.port"
func formatFieldName(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		parts[i] = strings.ToLower(part)
	}
	return strings.Join(parts, ".")
}

// translateError converts a validator.FieldError to a readable message.
func translateError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q check, got %v", fe.Tag(), fe.Value())
	}
}
