package config

import (
	"fmt"
	"time"
)

const (
	// Discovery defaults
	DefaultDiscoveryDelay = 5 * time.Second

	// Backend defaults
	DefaultProcessCacheSize = 64

	// Prometheus defaults
	DefaultPrometheusPort = 9464
	DefaultPrometheusPath = "/metrics"

	// OTEL defaults
	DefaultOTELInterval    = 10 * time.Second
	DefaultOTELTransport   = "grpc"
	DefaultOTELHost        = "localhost"
	DefaultOTELPortGRPC    = 4317
	DefaultOTELPortHTTP    = 4318
	DefaultServiceName     = "otelinsight"
	DefaultMonitorInterval = 30 * time.Second

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "OTELINSIGHT_"
)

// Config holds the complete application configuration.
type Config struct {
	Discovery DiscoveryConfig
	Backends  BackendsConfig
	// Rules names the built-in rule sets to load.
	Rules    []string `validate:"dive,oneof=runtime process host engine"`
	Export   ExportConfig
	Settings SettingsConfig
}

// DiscoveryConfig controls the discovery schedule.
type DiscoveryConfig struct {
	// Delay is the initial delay between discovery passes.
	Delay time.Duration `validate:"gt=0"`
}

// BackendsConfig selects the resource backends.
type BackendsConfig struct {
	Runtime RuntimeBackendConfig
	Process ProcessBackendConfig
	Host    HostBackendConfig
}

// RuntimeBackendConfig exposes the Go runtime of this process.
type RuntimeBackendConfig struct {
	Enabled bool
}

// ProcessBackendConfig exposes operating system processes.
type ProcessBackendConfig struct {
	Enabled bool
	// PIDs to watch. Empty means this process.
	PIDs      []int32 `validate:"dive,gt=0"`
	CacheSize int     `validate:"gt=0"`
}

// HostBackendConfig exposes machine-wide statistics.
type HostBackendConfig struct {
	Enabled bool
	PerCPU  bool
}

// ExportConfig defines how metrics are exposed. A nil exporter is disabled.
type ExportConfig struct {
	Prometheus *PrometheusExportConfig
	OTEL       *OTELExportConfig
}

// PrometheusExportConfig defines Prometheus pull endpoint settings.
type PrometheusExportConfig struct {
	Port int    `validate:"min=1,max=65535"`
	Path string `validate:"startswith=/"`
}

// Addr returns the listen address.
func (c *PrometheusExportConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// OTELExportConfig defines OTEL push settings.
type OTELExportConfig struct {
	Transport string `validate:"oneof=grpc http"`
	Host      string `validate:"required,hostname_rfc1123|ip"`
	Port      int    `validate:"min=1,max=65535"`
	Insecure  bool
	// Interval is the time between pushes.
	Interval time.Duration `validate:"gt=0"`
	Resource map[string]string
	Headers  map[string]string
}

// Endpoint returns the full endpoint address.
func (c *OTELExportConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SettingsConfig holds general application settings.
type SettingsConfig struct {
	Monitor MonitorConfig
}

// MonitorConfig controls the periodic resource usage log.
type MonitorConfig struct {
	Enabled  bool
	Interval time.Duration `validate:"gt=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := Resolve(&RawConfig{})
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}
