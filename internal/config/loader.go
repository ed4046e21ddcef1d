package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads a multi-tenant gateway config file from path, expands
// environment variables, merges it over the built-in defaults, and
// applies per-field fallbacks so every tenant ends up with a complete
// ProxyConfig-shaped view. A missing file is not an error: the built-in
// default tenant is used as-is, matching single-tenant deployments that
// never wrote a config.yaml.
func Load(path string) (*MultiTenantConfig, error) {
	cfg := &MultiTenantConfig{
		Default: DefaultProxyConfig(),
		Tenants: map[string]TenantConfig{},
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var loaded MultiTenantConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	merged := DefaultProxyConfig()
	if err := mergo.Merge(&merged, loaded.Default, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merge default tenant: %w", err)
	}
	cfg.Default = merged
	cfg.DevMode = loaded.DevMode

	if loaded.Tenants != nil {
		cfg.Tenants = loaded.Tenants
	}

	return cfg, nil
}

// ResolvePipelineSettings returns t's pipeline settings with any unset
// field filled in from the default tenant's settings.
func ResolvePipelineSettings(t *TenantConfig, def ProxyConfig) PipelineSettings {
	if t.Pipelines == nil {
		return def.Pipelines
	}
	resolved := def.Pipelines
	if err := mergo.Merge(&resolved, *t.Pipelines, mergo.WithOverride); err != nil {
		return def.Pipelines
	}
	return resolved
}

// ResolveTokenHoldback returns t's token holdback or the default tenant's.
func ResolveTokenHoldback(t *TenantConfig, def ProxyConfig) int {
	if t.TokenHoldback != nil {
		return *t.TokenHoldback
	}
	return def.TokenHoldback
}

// ResolveMaxBufferCapacity returns t's buffer capacity or the default
// tenant's.
func ResolveMaxBufferCapacity(t *TenantConfig, def ProxyConfig) int {
	if t.MaxBufferCapacity != nil {
		return *t.MaxBufferCapacity
	}
	return def.MaxBufferCapacity
}

// ResolveClassifiersConfig returns t's classifiers.yaml path or the
// default tenant's.
func ResolveClassifiersConfig(t *TenantConfig, def ProxyConfig) string {
	if t.ClassifiersConfig != "" {
		return t.ClassifiersConfig
	}
	return def.ClassifiersConfig
}
