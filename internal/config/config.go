// Package config loads the gateway's YAML configuration: tenant definitions,
// classifier/pipeline specs, and the ambient proxy settings that apply when
// a tenant does not override them. Loading is layered: read, expand env
// vars, merge built-in defaults with user overrides, then validate.
package config

import "time"

// ProxyConfig holds the settings every tenant inherits unless it overrides
// them, plus the default tenant's own backend/policy/classifier locations.
type ProxyConfig struct {
	BackendURL         string           `yaml:"backend_url"`
	PolicyPath         string           `yaml:"policy_path"`
	ClassifiersConfig  string           `yaml:"classifiers_config"`
	TokenHoldback      int              `yaml:"token_holdback"`
	MaxBufferCapacity  int              `yaml:"max_buffer_capacity"`
	Pipelines          PipelineSettings `yaml:"pipelines"`
	AuditDir           string           `yaml:"audit_dir"`
}

// PipelineSettings controls which named pipeline each phase runs and the
// score thresholds that gate blocking/redaction decisions.
type PipelineSettings struct {
	IngressPipeline   string            `yaml:"ingress_pipeline"`
	MidstreamPipeline string            `yaml:"midstream_pipeline"`
	EgressPipeline    string            `yaml:"egress_pipeline"`
	SafetyThreshold   float32           `yaml:"safety_threshold"`
	ChunkThreshold    float32           `yaml:"chunk_threshold"`
	TimeoutMS         int64             `yaml:"timeout_ms"`
	Streaming         StreamingSettings `yaml:"streaming"`
}

// StreamingSettings configures how much context a midstream classifier
// sees around each new fragment.
type StreamingSettings struct {
	ContextChunks  int `yaml:"context_chunks"`
	MaxBufferSize  int `yaml:"max_buffer_size"`
}

// StreamFormat selects which backend wire protocol a tenant's stream
// adapter expects to parse.
type StreamFormat string

const (
	StreamFormatOpenAI    StreamFormat = "openai"
	StreamFormatAnthropic StreamFormat = "anthropic"
	StreamFormatCustom    StreamFormat = "custom"
)

// TenantConfig describes one tenant's overrides on top of the default
// ProxyConfig. Only BackendURL and PolicyPath are required; everything
// else falls back to the default tenant's settings.
type TenantConfig struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	BackendURL        string            `yaml:"backend_url"`
	PolicyPath        string            `yaml:"policy_path"`
	ClassifiersConfig string            `yaml:"classifiers_config"`
	APIKeys           []string          `yaml:"api_keys"`
	StreamFormat      StreamFormat      `yaml:"stream_format"`
	Pipelines         *PipelineSettings `yaml:"pipelines"`
	TokenHoldback     *int              `yaml:"token_holdback"`
	MaxBufferCapacity *int              `yaml:"max_buffer_capacity"`
}

// MultiTenantConfig is the top-level gateway configuration file shape: a
// required default tenant plus zero or more named tenant overrides.
type MultiTenantConfig struct {
	Default ProxyConfig             `yaml:"default"`
	Tenants map[string]TenantConfig `yaml:"tenants"`
	DevMode bool                    `yaml:"dev_mode"`
}

func defaultIngressPipeline() string   { return "ingress" }
func defaultMidstreamPipeline() string { return "midstream" }
func defaultEgressPipeline() string    { return "egress" }

// DefaultPipelineSettings returns the defaults applied when
// a loaded config omits the pipelines block entirely.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		IngressPipeline:   defaultIngressPipeline(),
		MidstreamPipeline: defaultMidstreamPipeline(),
		EgressPipeline:    defaultEgressPipeline(),
		SafetyThreshold:   0.8,
		ChunkThreshold:    0.85,
		TimeoutMS:         int64(5 * time.Second / time.Millisecond),
		Streaming: StreamingSettings{
			ContextChunks: 0,
			MaxBufferSize: 256,
		},
	}
}

// DefaultProxyConfig returns the built-in default tenant used when no
// config file is supplied at all.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		BackendURL:        "https://api.openai.com/v1",
		PolicyPath:        "./policies",
		ClassifiersConfig: "./classifiers.yaml",
		TokenHoldback:     3,
		MaxBufferCapacity: 256,
		Pipelines:         DefaultPipelineSettings(),
		AuditDir:          "./audit",
	}
}
