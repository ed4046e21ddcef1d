// Package tenant builds and resolves per-tenant runtime bundles: the
// pre-materialized pipelines, policy engine, action executor, and stream
// adapter a request needs.
package tenant

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/checkstream/gateway/internal/classifier"
	cfgpkg "github.com/checkstream/gateway/internal/config"
	"github.com/checkstream/gateway/internal/executor"
	"github.com/checkstream/gateway/internal/pipeline"
	"github.com/checkstream/gateway/internal/policy"
	"github.com/checkstream/gateway/internal/security"
)

// Pipelines holds the three pre-built phase pipelines for one tenant.
type Pipelines struct {
	Ingress   *pipeline.Pipeline
	Midstream *pipeline.Pipeline
	Egress    *pipeline.Pipeline
}

// Runtime is the immutable per-tenant bundle built once at boot and shared
// by reference across every request for that tenant.
type Runtime struct {
	ID         string
	Name       string
	BackendURL string

	Pipelines        Pipelines
	PolicyEngine     *policy.Engine
	ActionExecutor   *executor.Executor
	StreamAdapter    StreamAdapter
	TokenHoldback    int
	MaxBufferCap     int
	PipelineSettings cfgpkg.PipelineSettings
}

// devModeURLConfig returns the strict production security.Config unless
// CHECKSTREAM_DEV_MODE is set in the environment, the escape hatch for
// local testing against a plaintext backend.
func devModeURLConfig() security.Config {
	if _, ok := os.LookupEnv("CHECKSTREAM_DEV_MODE"); ok {
		return security.Development()
	}
	return security.Production()
}

func streamAdapterFor(format cfgpkg.StreamFormat) StreamAdapter {
	switch format {
	case cfgpkg.StreamFormatAnthropic:
		return AnthropicAdapter()
	case cfgpkg.StreamFormatCustom:
		return OpenAIAdapter() // no per-tenant custom path config wired yet; falls back to OpenAI shape
	default:
		return OpenAIAdapter()
	}
}

// BuildFromTenantConfig builds a Runtime for one named tenant, resolving
// every optional field against the default tenant's ProxyConfig.
func BuildFromTenantConfig(tc cfgpkg.TenantConfig, def cfgpkg.ProxyConfig, classifiers map[string]classifier.Classifier) (*Runtime, error) {
	if _, err := security.ValidateBackendURL(tc.BackendURL, devModeURLConfig()); err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tc.ID, err)
	}

	settings := cfgpkg.ResolvePipelineSettings(&tc, def)

	pipelines, err := buildPipelines(settings, classifiers)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: %w", tc.ID, err)
	}

	policies, err := cfgpkg.LoadPolicies(tc.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("tenant %q: load policies: %w", tc.ID, err)
	}
	slog.Info("tenant runtime initialized", "tenant", tc.ID, "policies", len(policies))

	return &Runtime{
		ID:               tc.ID,
		Name:             tc.Name,
		BackendURL:       tc.BackendURL,
		Pipelines:        pipelines,
		PolicyEngine:     policy.NewEngine(policies),
		ActionExecutor:   executor.New(nil),
		StreamAdapter:    streamAdapterFor(tc.StreamFormat),
		TokenHoldback:    cfgpkg.ResolveTokenHoldback(&tc, def),
		MaxBufferCap:     cfgpkg.ResolveMaxBufferCapacity(&tc, def),
		PipelineSettings: settings,
	}, nil
}

// BuildDefault builds the Runtime for the always-present default tenant,
// identified by "_default".
func BuildDefault(def cfgpkg.ProxyConfig, classifiers map[string]classifier.Classifier) (*Runtime, error) {
	if _, err := security.ValidateBackendURL(def.BackendURL, devModeURLConfig()); err != nil {
		return nil, fmt.Errorf("default tenant: %w", err)
	}

	pipelines, err := buildPipelines(def.Pipelines, classifiers)
	if err != nil {
		return nil, fmt.Errorf("default tenant: %w", err)
	}

	policies, err := cfgpkg.LoadPolicies(def.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("default tenant: load policies: %w", err)
	}
	slog.Info("default tenant runtime initialized", "policies", len(policies))

	return &Runtime{
		ID:               "_default",
		Name:             "Default Tenant",
		BackendURL:       def.BackendURL,
		Pipelines:        pipelines,
		PolicyEngine:     policy.NewEngine(policies),
		ActionExecutor:   executor.New(nil),
		StreamAdapter:    OpenAIAdapter(),
		TokenHoldback:    def.TokenHoldback,
		MaxBufferCap:     def.MaxBufferCapacity,
		PipelineSettings: def.Pipelines,
	}, nil
}

func buildPipelines(settings cfgpkg.PipelineSettings, classifiers map[string]classifier.Classifier) (Pipelines, error) {
	// Named pipelines are resolved lazily by the registry file's pipeline
	// map rather than here; callers that load classifiers.yaml pass the
	// already-built map straight through BuildPipelinesFromSpecs instead.
	// This path exists for embedders that only have the flat classifier
	// map and want the three phase pipelines to simply run every
	// classifier tier-appropriately in one parallel stage each.
	return defaultPipelinesFromClassifiers(classifiers), nil
}

// defaultPipelinesFromClassifiers builds a reasonable three-phase pipeline
// set directly from a flat classifier map, for deployments that don't ship
// a classifiers.yaml pipelines: section. Ingress and egress run every tier
// A/B classifier in parallel with MaxScore aggregation; midstream runs
// only tier-A classifiers on the fast path.
func defaultPipelinesFromClassifiers(classifiers map[string]classifier.Classifier) Pipelines {
	var fast, all []classifier.Classifier
	for _, c := range classifiers {
		all = append(all, c)
		if c.Tier() == classifier.TierA {
			fast = append(fast, c)
		}
	}

	build := func(name string, cs []classifier.Classifier) *pipeline.Pipeline {
		if len(cs) == 0 {
			return &pipeline.Pipeline{Name: name}
		}
		return &pipeline.Pipeline{
			Name: name,
			Stages: []pipeline.Stage{{
				Name:        "all",
				Kind:        pipeline.StageParallel,
				Classifiers: cs,
				Strategy:    pipeline.AggregateMaxScore,
			}},
		}
	}

	return Pipelines{
		Ingress:   build("ingress", all),
		Midstream: build("midstream", fast),
		Egress:    build("egress", all),
	}
}

// BuildPipelinesFromSpecs builds the three named phase pipelines from a
// loaded classifiers.yaml registry file, the config-driven alternative to
// defaultPipelinesFromClassifiers.
func BuildPipelinesFromSpecs(settings cfgpkg.PipelineSettings, rf *cfgpkg.RegistryFile, classifiers map[string]classifier.Classifier) (Pipelines, error) {
	ingress, err := cfgpkg.BuildPipeline(settings.IngressPipeline, rf.Pipelines[settings.IngressPipeline], classifiers)
	if err != nil {
		return Pipelines{}, err
	}
	midstream, err := cfgpkg.BuildPipeline(settings.MidstreamPipeline, rf.Pipelines[settings.MidstreamPipeline], classifiers)
	if err != nil {
		return Pipelines{}, err
	}
	egress, err := cfgpkg.BuildPipeline(settings.EgressPipeline, rf.Pipelines[settings.EgressPipeline], classifiers)
	if err != nil {
		return Pipelines{}, err
	}
	return Pipelines{Ingress: ingress, Midstream: midstream, Egress: egress}, nil
}
