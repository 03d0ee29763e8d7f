package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// Load reads, overrides from the environment, resolves and validates the
// configuration. An empty path starts from defaults.
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, nil)
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	raw, err := Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := ApplyEnv(ctx, raw, lookuper); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := Resolve(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
