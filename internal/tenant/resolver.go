package tenant

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/checkstream/gateway/internal/classifier"
	cfgpkg "github.com/checkstream/gateway/internal/config"
)

// Resolver resolves an incoming request to the tenant Runtime that should
// serve it. Priority: X-Tenant-Id header, then path prefix, then API-key
// mapping, then the default tenant.
type Resolver struct {
	tenants       map[string]*Runtime
	apiKeyIndex   map[string]string // hashed or raw key -> tenant id
	defaultTenant *Runtime
}

// NewResolver builds a Resolver from already-constructed runtimes.
func NewResolver(tenants map[string]*Runtime, apiKeyIndex map[string]string, defaultTenant *Runtime) *Resolver {
	return &Resolver{tenants: tenants, apiKeyIndex: apiKeyIndex, defaultTenant: defaultTenant}
}

// FromConfig builds the default tenant and every named tenant's Runtime
// from cfg against a single shared classifier map, wiring apiKeyIndex
// (typically loaded from keyindex.Index.LoadAll, keyed by hashed API key)
// alongside each tenant's own plaintext api_keys list from config.
func FromConfig(cfg *cfgpkg.MultiTenantConfig, classifiers map[string]classifier.Classifier, apiKeyIndex map[string]string) (*Resolver, error) {
	defaultRuntime, err := BuildDefault(cfg.Default, classifiers)
	if err != nil {
		return nil, fmt.Errorf("tenant: default tenant: %w", err)
	}

	tenants := map[string]*Runtime{}
	keyIndex := map[string]string{}
	for k, v := range apiKeyIndex {
		keyIndex[k] = v
	}

	for id, tc := range cfg.Tenants {
		if tc.ID == "" {
			tc.ID = id
		}
		runtime, err := BuildFromTenantConfig(tc, cfg.Default, classifiers)
		if err != nil {
			return nil, fmt.Errorf("tenant: %w", err)
		}
		for _, key := range tc.APIKeys {
			keyIndex[key] = id
		}
		tenants[id] = runtime
	}

	slog.Info("tenant resolver initialized", "tenants", len(tenants))
	return NewResolver(tenants, keyIndex, defaultRuntime), nil
}

// Resolve picks the Runtime that should serve a request with the given
// headers and request path, in header -> path -> API-key -> default order.
func (r *Resolver) Resolve(headers http.Header, path string) *Runtime {
	if id := headers.Get("X-Tenant-Id"); id != "" {
		if t, ok := r.tenants[id]; ok {
			slog.Debug("resolved tenant from header")
			return t
		}
		// Don't log the tenant ID itself: that would let a prober enumerate
		// valid IDs by watching which ones produce a different log line.
		slog.Debug("tenant resolution failed, using default")
	}

	if id, ok := extractPathTenant(path); ok {
		if t, ok := r.tenants[id]; ok {
			slog.Debug("resolved tenant from path")
			return t
		}
		// No warning here: an ordinary, non-tenant-scoped path also takes
		// this shape and isn't an error.
	}

	if auth := headers.Get("Authorization"); auth != "" {
		if key, ok := extractAPIKey(auth); ok {
			if id, ok := r.apiKeyIndex[key]; ok {
				if t, ok := r.tenants[id]; ok {
					slog.Debug("resolved tenant from API key")
					return t
				}
			}
		}
	}

	slog.Debug("using default tenant")
	return r.defaultTenant
}

// Get returns a named tenant's Runtime directly, without going through
// header/path/API-key resolution.
func (r *Resolver) Get(tenantID string) (*Runtime, bool) {
	t, ok := r.tenants[tenantID]
	return t, ok
}

// DefaultTenant returns the always-present fallback Runtime.
func (r *Resolver) DefaultTenant() *Runtime {
	return r.defaultTenant
}

// ListTenants returns every named tenant's ID.
func (r *Resolver) ListTenants() []string {
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	return ids
}

// IsMultiTenant reports whether any tenant beyond the default is configured.
func (r *Resolver) IsMultiTenant() bool {
	return len(r.tenants) > 0
}

// extractPathTenant pulls a tenant ID out of a "/tenant-id/v1/..." request
// path. It returns false for "/v1/..." (no tenant segment) and for paths
// with fewer than two segments.
func extractPathTenant(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[1] == "v1" && parts[0] != "v1" {
		return parts[0], true
	}
	return "", false
}

// extractAPIKey pulls a raw API key out of an Authorization header value,
// accepting a bearer token or a bare "sk-"/"key-" prefixed key.
func extractAPIKey(auth string) (string, bool) {
	auth = strings.TrimSpace(auth)
	if key, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(key), true
	}
	if strings.HasPrefix(auth, "sk-") || strings.HasPrefix(auth, "key-") {
		return auth, true
	}
	return "", false
}
