package exporter

import (
	"context"
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/neox5/otelinsight/internal/config"
	"github.com/neox5/otelinsight/internal/version"
)

// createOTELResource creates an OTEL resource from configuration attributes.
// service.name and service.version are filled in when missing.
func createOTELResource(ctx context.Context, resourceAttrs map[string]string) (*resource.Resource, error) {
	all := map[string]string{
		"service.name":    config.DefaultServiceName,
		"service.version": version.Version,
	}
	maps.Copy(all, resourceAttrs)

	attrs := make([]attribute.KeyValue, 0, len(all))
	for k, v := range all {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(attrs...),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return res, nil
}
