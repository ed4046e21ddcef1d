package pipeline

import (
	"errors"
	"testing"

	"github.com/checkstream/gateway/internal/classifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	name  string
	score float32
	label string
	err   error
}

func (f *fakeClassifier) Name() string          { return f.name }
func (f *fakeClassifier) Tier() classifier.Tier { return classifier.TierA }
func (f *fakeClassifier) Classify(text string) (classifier.Result, error) {
	if f.err != nil {
		return classifier.Result{}, f.err
	}
	return classifier.Result{Label: f.label, Score: f.score}, nil
}

func TestEmptyPipelineProducesNoFinalDecision(t *testing.T) {
	p := &Pipeline{Name: "empty"}
	exec, err := p.Execute("anything")
	require.NoError(t, err)
	assert.Empty(t, exec.StageResults)
	assert.Nil(t, exec.FinalDecision)
}

func TestParallelMaxScoreTieBreaksToEarliest(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1",
				Kind: StageParallel,
				Classifiers: []classifier.Classifier{
					&fakeClassifier{name: "a", score: 0.8},
					&fakeClassifier{name: "b", score: 0.8},
					&fakeClassifier{name: "c", score: 0.3},
				},
				Strategy: AggregateMaxScore,
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	require.Len(t, exec.StageResults, 1)
	assert.Equal(t, "a", exec.StageResults[0].Classifier)
	assert.Equal(t, float32(0.8), exec.StageResults[0].Result.Score)
}

func TestParallelOrderPreservedRegardlessOfCompletionOrder(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1",
				Kind: StageParallel,
				Classifiers: []classifier.Classifier{
					&fakeClassifier{name: "a", score: 0.1},
					&fakeClassifier{name: "b", score: 0.2},
					&fakeClassifier{name: "c", score: 0.3},
				},
				Strategy: AggregateAll,
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	require.Len(t, exec.StageResults, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{
		exec.StageResults[0].Classifier,
		exec.StageResults[1].Classifier,
		exec.StageResults[2].Classifier,
	})
}

func TestFirstPositiveFallsBackToAllWhenNoneQualify(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1",
				Kind: StageParallel,
				Classifiers: []classifier.Classifier{
					&fakeClassifier{name: "a", score: 0.1},
					&fakeClassifier{name: "b", score: 0.2},
				},
				Strategy: AggregateFirstPositive,
				Threshold: 0.9,
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	assert.Len(t, exec.StageResults, 2)
}

func TestFirstPositiveReturnsFirstQualifier(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1",
				Kind: StageParallel,
				Classifiers: []classifier.Classifier{
					&fakeClassifier{name: "a", score: 0.2},
					&fakeClassifier{name: "b", score: 0.95},
					&fakeClassifier{name: "c", score: 0.99},
				},
				Strategy: AggregateFirstPositive,
				Threshold: 0.9,
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	require.Len(t, exec.StageResults, 1)
	assert.Equal(t, "b", exec.StageResults[0].Classifier)
}

func TestUnanimousKeepsAllNoConsensusField(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1",
				Kind: StageParallel,
				Classifiers: []classifier.Classifier{
					&fakeClassifier{name: "a", score: 0.8},
					&fakeClassifier{name: "b", score: 0.2},
				},
				Strategy: AggregateUnanimous,
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	assert.Len(t, exec.StageResults, 2)
}

func TestWeightedAverageSynthesizesOneResult(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1",
				Kind: StageParallel,
				Classifiers: []classifier.Classifier{
					&fakeClassifier{name: "a", score: 0.9},
					&fakeClassifier{name: "b", score: 0.7},
				},
				Strategy: AggregateWeightedAverage,
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	require.Len(t, exec.StageResults, 1)
	assert.InDelta(t, 0.8, exec.StageResults[0].Result.Score, 0.001)
	assert.Equal(t, "positive", exec.StageResults[0].Result.Label)
}

func TestFinalDecisionIsLastEmittedResult(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{Name: "s1", Kind: StageSingle, Classifiers: []classifier.Classifier{&fakeClassifier{name: "a", score: 0.1, label: "clean"}}},
			{Name: "s2", Kind: StageSingle, Classifiers: []classifier.Classifier{&fakeClassifier{name: "b", score: 0.9, label: "flagged"}}},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	require.NotNil(t, exec.FinalDecision)
	assert.Equal(t, "flagged", exec.FinalDecision.Label)
}

func TestConditionalSkipsWhenPredicateFalse(t *testing.T) {
	p := &Pipeline{
		Stages: []Stage{
			{Name: "s1", Kind: StageSingle, Classifiers: []classifier.Classifier{&fakeClassifier{name: "a", score: 0.1}}},
			{
				Name: "s2", Kind: StageConditional,
				Classifiers: []classifier.Classifier{&fakeClassifier{name: "b", score: 0.9}},
				Predicate:   func(prior []StageResult) bool { return prior[0].Result.Score > 0.5 },
			},
		},
	}
	exec, err := p.Execute("x")
	require.NoError(t, err)
	assert.Len(t, exec.StageResults, 1)
}

func TestParallelPropagatesClassifierError(t *testing.T) {
	boom := errors.New("boom")
	p := &Pipeline{
		Stages: []Stage{
			{
				Name: "s1", Kind: StageParallel,
				Classifiers: []classifier.Classifier{&fakeClassifier{name: "a", err: boom}},
				Strategy:    AggregateAll,
			},
		},
	}
	_, err := p.Execute("x")
	require.Error(t, err)
}
