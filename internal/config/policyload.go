package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/checkstream/gateway/internal/policy"
)

// LoadPolicies loads every policy a tenant refers to at path: a path to a
// single YAML file loads one policy, a directory loads every .yaml/.yml
// file in it. A
// path that does not exist yields an empty policy set rather than an
// error, matching single-tenant deployments that never shipped a policy
// file. A malformed file inside a directory is logged and skipped so one
// bad policy pack doesn't take down every other tenant's rules.
func LoadPolicies(path string) ([]policy.Policy, error) {
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config: policy path does not exist, using empty policy set", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if !info.IsDir() {
		p, err := loadPolicyFile(path)
		if err != nil {
			return nil, err
		}
		return []policy.Policy{p}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("config: read policy dir %s: %w", path, err)
	}

	var policies []policy.Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		full := filepath.Join(path, entry.Name())
		p, err := loadPolicyFile(full)
		if err != nil {
			slog.Warn("config: failed to load policy file, skipping", "path", full, "error", err)
			continue
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func loadPolicyFile(path string) (policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	data = ExpandEnv(data)

	var p policy.Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return policy.Policy{}, fmt.Errorf("config: parse policy %s: %w", path, err)
	}
	return p, nil
}
