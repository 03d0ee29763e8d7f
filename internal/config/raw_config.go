package config

import (
	"time"

	"go.yaml.in/yaml/v4"
)

// RawConfig represents unparsed YAML structure
type RawConfig struct {
	Discovery RawDiscoveryConfig `yaml:"discovery"`
	Backends  RawBackendsConfig  `yaml:"backends"`
	Rules     RawRules           `yaml:"rules,omitempty"`
	Export    RawExportConfig    `yaml:"export"`
	Settings  RawSettingsConfig  `yaml:"settings"`
}

// RawDiscoveryConfig controls the discovery schedule
type RawDiscoveryConfig struct {
	Delay time.Duration `yaml:"delay,omitempty"`
}

// RawBackendsConfig selects the resource backends
type RawBackendsConfig struct {
	Runtime RawRuntimeBackendConfig `yaml:"runtime"`
	Process RawProcessBackendConfig `yaml:"process"`
	Host    RawHostBackendConfig    `yaml:"host"`
}

// RawRuntimeBackendConfig exposes the Go runtime
type RawRuntimeBackendConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// RawProcessBackendConfig exposes operating system processes
type RawProcessBackendConfig struct {
	Enabled   *bool   `yaml:"enabled,omitempty"`
	PIDs      []int32 `yaml:"pids,omitempty"`
	CacheSize int     `yaml:"cache_size,omitempty"`
}

// RawHostBackendConfig exposes machine-wide statistics
type RawHostBackendConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	PerCPU  bool  `yaml:"per_cpu,omitempty"`
}

// RawRules lists rule set names. Nil means the default sets.
type RawRules []string

// UnmarshalYAML handles both the single name ("all", "host") and list forms
func (r *RawRules) UnmarshalYAML(value *yaml.Node) error {
	// Try single name form first
	var single string
	if err := value.Decode(&single); err == nil {
		*r = RawRules{single}
		return nil
	}

	// Fall back to list form
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*r = list
	return nil
}

// RawExportConfig defines how metrics are exposed
type RawExportConfig struct {
	Prometheus *RawPrometheusExportConfig `yaml:"prometheus,omitempty"`
	OTEL       *RawOTELExportConfig       `yaml:"otel,omitempty"`
}

// RawPrometheusExportConfig defines Prometheus pull endpoint settings
type RawPrometheusExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// RawOTELExportConfig defines OTEL push settings
type RawOTELExportConfig struct {
	Enabled   bool              `yaml:"enabled"`
	Transport string            `yaml:"transport"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	Insecure  *bool             `yaml:"insecure,omitempty"`
	Interval  time.Duration     `yaml:"interval"`
	Resource  map[string]string `yaml:"resource,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// RawSettingsConfig holds general application settings
type RawSettingsConfig struct {
	Monitor RawMonitorConfig `yaml:"monitor"`
}

// RawMonitorConfig controls the periodic resource usage log
type RawMonitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval,omitempty"`
}
