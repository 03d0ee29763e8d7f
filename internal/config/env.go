package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// envOverrides are read from OTELINSIGHT_* variables. Unset variables
// leave the file value untouched.
type envOverrides struct {
	DiscoveryDelay *time.Duration `env:"DISCOVERY_DELAY, noinit"`
	Rules          []string       `env:"RULES"`

	RuntimeEnabled *bool   `env:"BACKENDS_RUNTIME_ENABLED, noinit"`
	ProcessEnabled *bool   `env:"BACKENDS_PROCESS_ENABLED, noinit"`
	ProcessPIDs    []int32 `env:"BACKENDS_PROCESS_PIDS"`
	HostEnabled    *bool   `env:"BACKENDS_HOST_ENABLED, noinit"`

	PrometheusEnabled *bool   `env:"PROMETHEUS_ENABLED, noinit"`
	PrometheusPort    *int    `env:"PROMETHEUS_PORT, noinit"`
	PrometheusPath    *string `env:"PROMETHEUS_PATH, noinit"`

	OTELEnabled   *bool             `env:"OTEL_ENABLED, noinit"`
	OTELTransport *string           `env:"OTEL_TRANSPORT, noinit"`
	OTELHost      *string           `env:"OTEL_HOST, noinit"`
	OTELPort      *int              `env:"OTEL_PORT, noinit"`
	OTELInterval  *time.Duration    `env:"OTEL_INTERVAL, noinit"`
	OTELHeaders   map[string]string `env:"OTEL_HEADERS"`

	MonitorEnabled *bool `env:"MONITOR_ENABLED, noinit"`
}

// ApplyEnv overrides raw with OTELINSIGHT_* variables found by lookuper.
// A nil lookuper reads the process environment.
func ApplyEnv(ctx context.Context, raw *RawConfig, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}

	var env envOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &env,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if env.DiscoveryDelay != nil {
		raw.Discovery.Delay = *env.DiscoveryDelay
	}
	if env.Rules != nil {
		raw.Rules = env.Rules
	}

	if env.RuntimeEnabled != nil {
		raw.Backends.Runtime.Enabled = env.RuntimeEnabled
	}
	if env.ProcessEnabled != nil {
		raw.Backends.Process.Enabled = env.ProcessEnabled
	}
	if env.ProcessPIDs != nil {
		raw.Backends.Process.PIDs = env.ProcessPIDs
	}
	if env.HostEnabled != nil {
		raw.Backends.Host.Enabled = env.HostEnabled
	}

	if env.PrometheusEnabled != nil || env.PrometheusPort != nil || env.PrometheusPath != nil {
		if raw.Export.Prometheus == nil {
			raw.Export.Prometheus = &RawPrometheusExportConfig{Enabled: true}
		}
		p := raw.Export.Prometheus
		if env.PrometheusEnabled != nil {
			p.Enabled = *env.PrometheusEnabled
		}
		if env.PrometheusPort != nil {
			p.Port = *env.PrometheusPort
		}
		if env.PrometheusPath != nil {
			p.Path = *env.PrometheusPath
		}
	}

	if env.OTELEnabled != nil || env.OTELTransport != nil || env.OTELHost != nil ||
		env.OTELPort != nil || env.OTELInterval != nil || env.OTELHeaders != nil {
		if raw.Export.OTEL == nil {
			raw.Export.OTEL = &RawOTELExportConfig{Enabled: true}
		}
		o := raw.Export.OTEL
		if env.OTELEnabled != nil {
			o.Enabled = *env.OTELEnabled
		}
		if env.OTELTransport != nil {
			o.Transport = *env.OTELTransport
		}
		if env.OTELHost != nil {
			o.Host = *env.OTELHost
		}
		if env.OTELPort != nil {
			o.Port = *env.OTELPort
		}
		if env.OTELInterval != nil {
			o.Interval = *env.OTELInterval
		}
		if env.OTELHeaders != nil {
			if o.Headers == nil {
				o.Headers = make(map[string]string, len(env.OTELHeaders))
			}
			for k, v := range env.OTELHeaders {
				o.Headers[k] = v
			}
		}
	}

	if env.MonitorEnabled != nil {
		raw.Settings.Monitor.Enabled = *env.MonitorEnabled
	}
	return nil
}
