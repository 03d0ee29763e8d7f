package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Rule set names accepted in the rules section.
const (
	RulesAll     = "all"
	RulesRuntime = "runtime"
	RulesProcess = "process"
	RulesHost    = "host"
	RulesEngine  = "engine"
)

// Resolve applies defaults and builds the final config. The result still
// has to pass Validate.
func Resolve(raw *RawConfig) (*Config, error) {
	cfg := &Config{
		Discovery: DiscoveryConfig{Delay: raw.Discovery.Delay},
		Backends:  resolveBackends(&raw.Backends),
	}
	if cfg.Discovery.Delay == 0 {
		cfg.Discovery.Delay = DefaultDiscoveryDelay
	}

	rules, err := resolveRules(raw.Rules, cfg.Backends)
	if err != nil {
		return nil, err
	}
	cfg.Rules = rules

	cfg.Export = resolveExport(&raw.Export)
	cfg.Settings = resolveSettings(&raw.Settings)
	return cfg, nil
}

func boolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func resolveBackends(raw *RawBackendsConfig) BackendsConfig {
	b := BackendsConfig{
		Runtime: RuntimeBackendConfig{Enabled: boolValue(raw.Runtime.Enabled, true)},
		Process: ProcessBackendConfig{
			Enabled:   boolValue(raw.Process.Enabled, true),
			PIDs:      raw.Process.PIDs,
			CacheSize: raw.Process.CacheSize,
		},
		Host: HostBackendConfig{
			Enabled: boolValue(raw.Host.Enabled, true),
			PerCPU:  raw.Host.PerCPU,
		},
	}
	if b.Process.CacheSize == 0 {
		b.Process.CacheSize = DefaultProcessCacheSize
	}
	return b
}

// resolveRules expands "all" and defaults to the sets of the enabled
// backends plus the engine set. Duplicates are dropped.
func resolveRules(raw RawRules, backends BackendsConfig) ([]string, error) {
	enabled := []string{}
	if backends.Runtime.Enabled {
		enabled = append(enabled, RulesRuntime)
	}
	if backends.Process.Enabled {
		enabled = append(enabled, RulesProcess)
	}
	if backends.Host.Enabled {
		enabled = append(enabled, RulesHost)
	}
	enabled = append(enabled, RulesEngine)

	if raw == nil {
		return enabled, nil
	}

	var (
		out  []string
		seen = make(map[string]bool)
		ctx  resolveContext
	)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
			return nil, ctx.push("rules", "").error("empty rule set name")
		case RulesAll:
			for _, n := range enabled {
				add(n)
			}
		default:
			add(name)
		}
	}
	return out, nil
}

func resolveExport(raw *RawExportConfig) ExportConfig {
	// Default to Prometheus enabled if no exporters configured
	if raw.Prometheus == nil && raw.OTEL == nil {
		return ExportConfig{
			Prometheus: &PrometheusExportConfig{
				Port: DefaultPrometheusPort,
				Path: DefaultPrometheusPath,
			},
		}
	}

	var e ExportConfig
	if p := raw.Prometheus; p != nil && p.Enabled {
		e.Prometheus = &PrometheusExportConfig{Port: p.Port, Path: p.Path}
		if e.Prometheus.Port == 0 {
			e.Prometheus.Port = DefaultPrometheusPort
		}
		if e.Prometheus.Path == "" {
			e.Prometheus.Path = DefaultPrometheusPath
		}
	}

	if o := raw.OTEL; o != nil && o.Enabled {
		c := &OTELExportConfig{
			Transport: o.Transport,
			Host:      o.Host,
			Port:      o.Port,
			Insecure:  boolValue(o.Insecure, true),
			Interval:  o.Interval,
			Resource:  maps.Clone(o.Resource),
			Headers:   maps.Clone(o.Headers),
		}
		if c.Transport == "" {
			c.Transport = DefaultOTELTransport
		}
		if c.Host == "" {
			c.Host = DefaultOTELHost
		}
		// Apply port default based on transport
		if c.Port == 0 {
			if c.Transport == "http" {
				c.Port = DefaultOTELPortHTTP
			} else {
				c.Port = DefaultOTELPortGRPC
			}
		}
		if c.Interval == 0 {
			c.Interval = DefaultOTELInterval
		}
		if c.Resource == nil {
			c.Resource = make(map[string]string)
		}
		if _, exists := c.Resource["service.name"]; !exists {
			c.Resource["service.name"] = DefaultServiceName
		}
		e.OTEL = c
	}
	return e
}

func resolveSettings(raw *RawSettingsConfig) SettingsConfig {
	s := SettingsConfig{Monitor: MonitorConfig{
		Enabled:  raw.Monitor.Enabled,
		Interval: raw.Monitor.Interval,
	}}
	if s.Monitor.Interval == 0 {
		s.Monitor.Interval = DefaultMonitorInterval
	}
	return s
}

// resolveContext tracks resolution path for error messages
type resolveContext []string

func (ctx resolveContext) push(component, name string) resolveContext {
	return append(ctx, fmt.Sprintf("%s %q", component, name))
}

func (ctx resolveContext) error(msg string) error {
	if len(ctx) == 0 {
		return errors.New(msg)
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := len(ctx) - 1; i >= 0; i-- {
		b.WriteString("\n  in ")
		b.WriteString(ctx[i])
	}
	return errors.New(b.String())
}
