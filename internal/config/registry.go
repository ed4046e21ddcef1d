package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/checkstream/gateway/internal/classifier"
	"github.com/checkstream/gateway/internal/pipeline"
)

// ClassifierSpec is one entry in classifiers.yaml's classifiers: map,
// describing how to construct a built-in or external classifier.
type ClassifierSpec struct {
	Kind     string              `yaml:"kind"` // pattern, pii, financial_advice, prompt_injection, sentiment, external
	Tier     string              `yaml:"tier"`
	Patterns []LabeledPatternSpec `yaml:"patterns"` // kind: pattern
	Address  string              `yaml:"address"`  // kind: external
}

// LabeledPatternSpec is one (label, pattern) row for a pattern classifier.
type LabeledPatternSpec struct {
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"`
}

// RegistryFile is the full classifiers.yaml document: named classifier
// specs plus the named pipelines built from them.
type RegistryFile struct {
	Classifiers map[string]ClassifierSpec     `yaml:"classifiers"`
	Pipelines   map[string]PipelineConfigSpec `yaml:"pipelines"`
}

// LoadRegistryFile parses classifiers.yaml from raw bytes (already
// env-expanded by the caller).
func LoadRegistryFile(data []byte) (*RegistryFile, error) {
	var rf RegistryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse classifiers config: %w", err)
	}
	return &rf, nil
}

func parseTier(s string) classifier.Tier {
	switch s {
	case "B":
		return classifier.TierB
	case "C":
		return classifier.TierC
	default:
		return classifier.TierA
	}
}

// BuildClassifiers instantiates every classifier named in rf, plus the
// fixed set of built-ins the gateway always ships (pii_detector,
// financial-advice, prompt-injection, sentiment), registered before the
// config-driven ones are layered in. A pipeline stage referencing an
// unknown classifier name is a hard config error rather than falling back
// to a no-op: every classifier here is cheap to construct, so there is
// nothing legitimate to fall back past.
func BuildClassifiers(rf *RegistryFile) (map[string]classifier.Classifier, error) {
	out := map[string]classifier.Classifier{
		"pii_detector":     classifier.NewPIIClassifier(classifier.TierA),
		"pii":              classifier.NewPIIClassifier(classifier.TierA),
		"financial-advice": classifier.NewFinancialAdviceClassifier(classifier.TierB),
		"prompt-injection": classifier.NewPromptInjectionClassifier(classifier.TierB),
		"sentiment":        classifier.NewSentimentClassifier(classifier.TierA),
	}

	for name, spec := range rf.Classifiers {
		c, err := buildOne(name, spec)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}

	return out, nil
}

func buildOne(name string, spec ClassifierSpec) (classifier.Classifier, error) {
	tier := parseTier(spec.Tier)

	switch spec.Kind {
	case "pattern":
		patterns := make([]classifier.LabeledPattern, 0, len(spec.Patterns))
		for _, p := range spec.Patterns {
			patterns = append(patterns, classifier.LabeledPattern{Label: p.Label, Pattern: p.Pattern})
		}
		return classifier.NewPatternClassifier(name, tier, patterns)

	case "pii":
		return classifier.NewPIIClassifier(tier), nil

	case "financial_advice":
		return classifier.NewFinancialAdviceClassifier(tier), nil

	case "prompt_injection":
		return classifier.NewPromptInjectionClassifier(tier), nil

	case "sentiment":
		return classifier.NewSentimentClassifier(tier), nil

	case "external":
		return classifier.NewExternalClassifier(name, tier, spec.Address)

	default:
		return nil, fmt.Errorf("config: unknown classifier kind %q for %q", spec.Kind, name)
	}
}

// BuildPipelines builds every named pipeline in rf against classifiers.
func BuildPipelines(rf *RegistryFile, classifiers map[string]classifier.Classifier) (map[string]*pipeline.Pipeline, error) {
	out := map[string]*pipeline.Pipeline{}
	for name, spec := range rf.Pipelines {
		p, err := BuildPipeline(name, spec, classifiers)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}
