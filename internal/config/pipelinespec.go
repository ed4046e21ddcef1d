package config

import (
	"fmt"

	"github.com/checkstream/gateway/internal/classifier"
	"github.com/checkstream/gateway/internal/pipeline"
)

// StageConfigSpec is the YAML shape for one pipeline stage. Exactly the
// fields relevant to Type are populated; the rest are left zero.
type StageConfigSpec struct {
	Type        string                `yaml:"type"`
	Name        string                `yaml:"name"`
	Classifier  string                `yaml:"classifier"`
	Classifiers []string              `yaml:"classifiers"`
	Aggregation AggregationSpec       `yaml:"aggregation"`
	Condition   ConditionSpec         `yaml:"condition"`
}

// AggregationSpec is the YAML shape for a parallel stage's aggregation
// strategy. FirstPositive is the only variant carrying a parameter.
type AggregationSpec struct {
	Strategy  string  `yaml:"strategy"`
	Threshold float32 `yaml:"threshold"`
}

// ConditionSpec is the YAML shape for a conditional stage's gating rule.
type ConditionSpec struct {
	Kind       string  `yaml:"kind"`
	Threshold  float32 `yaml:"threshold"`
	Classifier string  `yaml:"classifier"`
}

// PipelineConfigSpec is one named pipeline's stage list, as loaded from
// classifiers.yaml.
type PipelineConfigSpec struct {
	Description string            `yaml:"description"`
	Stages      []StageConfigSpec `yaml:"stages"`
}

func (a AggregationSpec) toStrategy() pipeline.AggregationStrategy {
	switch a.Strategy {
	case "max_score":
		return pipeline.AggregateMaxScore
	case "min_score":
		return pipeline.AggregateMinScore
	case "first_positive":
		return pipeline.AggregateFirstPositive
	case "unanimous":
		return pipeline.AggregateUnanimous
	case "weighted_average":
		return pipeline.AggregateWeightedAverage
	default:
		return pipeline.AggregateAll
	}
}

func (c ConditionSpec) toPredicate() pipeline.Predicate {
	switch c.Kind {
	case "any_above_threshold":
		threshold := c.Threshold
		return func(prior []pipeline.StageResult) bool {
			for _, r := range prior {
				if r.Result.Score > threshold {
					return true
				}
			}
			return false
		}
	case "all_above_threshold":
		threshold := c.Threshold
		return func(prior []pipeline.StageResult) bool {
			if len(prior) == 0 {
				return false
			}
			for _, r := range prior {
				if r.Result.Score <= threshold {
					return false
				}
			}
			return true
		}
	case "classifier_triggered":
		name := c.Classifier
		return func(prior []pipeline.StageResult) bool {
			for _, r := range prior {
				if r.Classifier == name && r.Result.Score > 0.5 {
					return true
				}
			}
			return false
		}
	default: // "always" or unrecognized
		return func([]pipeline.StageResult) bool { return true }
	}
}

// BuildPipeline constructs a runtime pipeline.Pipeline from a named spec,
// resolving each stage's classifier references against classifiers, the
// registry's name->implementation map.
func BuildPipeline(name string, spec PipelineConfigSpec, classifiers map[string]classifier.Classifier) (*pipeline.Pipeline, error) {
	p := &pipeline.Pipeline{Name: name}

	for _, s := range spec.Stages {
		switch s.Type {
		case "single":
			c, err := lookup(classifiers, s.Classifier, s.Name)
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, pipeline.Stage{
				Name:        s.Name,
				Kind:        pipeline.StageSingle,
				Classifiers: []classifier.Classifier{c},
			})

		case "parallel":
			cs, err := lookupAll(classifiers, s.Classifiers, s.Name)
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, pipeline.Stage{
				Name:        s.Name,
				Kind:        pipeline.StageParallel,
				Classifiers: cs,
				Strategy:    s.Aggregation.toStrategy(),
				Threshold:   s.Aggregation.Threshold,
			})

		case "sequential":
			cs, err := lookupAll(classifiers, s.Classifiers, s.Name)
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, pipeline.Stage{
				Name:        s.Name,
				Kind:        pipeline.StageSequential,
				Classifiers: cs,
			})

		case "conditional":
			c, err := lookup(classifiers, s.Classifier, s.Name)
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, pipeline.Stage{
				Name:        s.Name,
				Kind:        pipeline.StageConditional,
				Classifiers: []classifier.Classifier{c},
				Predicate:   s.Condition.toPredicate(),
			})

		default:
			return nil, fmt.Errorf("config: unknown stage type %q for stage %q", s.Type, s.Name)
		}
	}

	return p, nil
}

func lookup(classifiers map[string]classifier.Classifier, name, stageName string) (classifier.Classifier, error) {
	c, ok := classifiers[name]
	if !ok {
		return nil, fmt.Errorf("config: classifier %q not found for stage %q", name, stageName)
	}
	return c, nil
}

func lookupAll(classifiers map[string]classifier.Classifier, names []string, stageName string) ([]classifier.Classifier, error) {
	out := make([]classifier.Classifier, 0, len(names))
	for _, n := range names {
		c, err := lookup(classifiers, n, stageName)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
