package exporter

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// createPrometheusReader creates a registry and a reader that serves the
// meter provider's metrics from it on every scrape.
func createPrometheusReader() (*prometheus.Registry, sdkmetric.Reader, error) {
	promRegistry := prometheus.NewRegistry()

	reader, err := otelprom.New(otelprom.WithRegisterer(promRegistry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	return promRegistry, reader, nil
}
