// Package pipeline composes classifiers into ordered stages (single,
// parallel, sequential, conditional) and aggregates their results. Parallel
// stages fan out with goroutines and a WaitGroup; declaration order of the
// results is preserved regardless of completion order.
package pipeline

import (
	"sync"
	"time"

	"github.com/checkstream/gateway/internal/classifier"
)

// AggregationStrategy reduces a parallel stage's result vector.
type AggregationStrategy int

const (
	AggregateAll AggregationStrategy = iota
	AggregateMaxScore
	AggregateMinScore
	AggregateFirstPositive
	AggregateUnanimous
	AggregateWeightedAverage
)

// StageKind distinguishes the four stage shapes a Pipeline can run.
type StageKind int

const (
	StageSingle StageKind = iota
	StageParallel
	StageSequential
	StageConditional
)

// Predicate decides whether a Conditional stage's classifier should run,
// given every result accumulated by prior stages.
type Predicate func(prior []StageResult) bool

// Stage is one entry in a Pipeline's ordered stage list.
type Stage struct {
	Name        string
	Kind        StageKind
	Classifiers []classifier.Classifier // Single/Conditional use index 0
	Strategy    AggregationStrategy      // Parallel only
	Threshold   float32                  // FirstPositive only
	Predicate   Predicate                // Conditional only
}

// StageResult pairs one classifier's output with the stage that produced it.
type StageResult struct {
	Stage      string
	Classifier string
	Result     classifier.Result
	LatencyUS  uint64
}

// ExecutionResult is the full record of one Pipeline.Execute call.
type ExecutionResult struct {
	StageResults   []StageResult
	TotalLatencyUS uint64
	FinalDecision  *classifier.Result
}

// Pipeline owns an ordered list of stages and runs classifiers over a
// single piece of text.
type Pipeline struct {
	Name   string
	Stages []Stage
}

// Execute runs every stage in declared order; each stage observes the
// cumulative results of every prior stage. An empty stage list produces an
// empty result vector and no final decision.
func (p *Pipeline) Execute(text string) (ExecutionResult, error) {
	start := time.Now()
	var all []StageResult

	for _, stage := range p.Stages {
		results, err := executeStage(stage, text, all)
		if err != nil {
			return ExecutionResult{}, err
		}
		all = append(all, results...)
	}

	exec := ExecutionResult{
		StageResults:   all,
		TotalLatencyUS: uint64(time.Since(start).Microseconds()),
	}
	if len(all) > 0 {
		final := all[len(all)-1].Result
		exec.FinalDecision = &final
	}
	return exec, nil
}

func executeStage(stage Stage, text string, prior []StageResult) ([]StageResult, error) {
	switch stage.Kind {
	case StageSingle:
		return executeSingle(stage, text)
	case StageParallel:
		return executeParallel(stage, text)
	case StageSequential:
		return executeSequential(stage, text)
	case StageConditional:
		if stage.Predicate != nil && !stage.Predicate(prior) {
			return nil, nil
		}
		return executeSingle(stage, text)
	default:
		return nil, nil
	}
}

func classify(stage Stage, c classifier.Classifier, text string) (StageResult, error) {
	start := time.Now()
	result, err := c.Classify(text)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{
		Stage:      stage.Name,
		Classifier: c.Name(),
		Result:     result,
		LatencyUS:  uint64(time.Since(start).Microseconds()),
	}, nil
}

func executeSingle(stage Stage, text string) ([]StageResult, error) {
	if len(stage.Classifiers) == 0 {
		return nil, nil
	}
	r, err := classify(stage, stage.Classifiers[0], text)
	if err != nil {
		return nil, err
	}
	return []StageResult{r}, nil
}

func executeSequential(stage Stage, text string) ([]StageResult, error) {
	results := make([]StageResult, 0, len(stage.Classifiers))
	for _, c := range stage.Classifiers {
		r, err := classify(stage, c, text)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// executeParallel spawns one goroutine per classifier, joins all of them
// (join-all semantics), then reorders to declaration order regardless of
// completion order before applying the aggregation strategy.
func executeParallel(stage Stage, text string) ([]StageResult, error) {
	n := len(stage.Classifiers)
	results := make([]StageResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i, c := range stage.Classifiers {
		go func(i int, c classifier.Classifier) {
			defer wg.Done()
			r, err := classify(stage, c, text)
			results[i] = r
			errs[i] = err
		}(i, c)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return applyAggregation(stage, results), nil
}

func applyAggregation(stage Stage, results []StageResult) []StageResult {
	if len(results) == 0 {
		return results
	}

	switch stage.Strategy {
	case AggregateAll:
		return results

	case AggregateMaxScore:
		best := 0
		for i := 1; i < len(results); i++ {
			if results[i].Result.Score > results[best].Result.Score {
				best = i
			}
		}
		return []StageResult{results[best]}

	case AggregateMinScore:
		best := 0
		for i := 1; i < len(results); i++ {
			if results[i].Result.Score < results[best].Result.Score {
				best = i
			}
		}
		return []StageResult{results[best]}

	case AggregateFirstPositive:
		for _, r := range results {
			if r.Result.Score >= stage.Threshold {
				return []StageResult{r}
			}
		}
		// No qualifying result: fall back to keeping all.
		return results

	case AggregateUnanimous:
		// Keep all results regardless of consensus; no scoring change and
		// no consensus flag.
		return results

	case AggregateWeightedAverage:
		var sum float32
		for _, r := range results {
			sum += r.Result.Score
		}
		avg := sum / float32(len(results))
		label := "negative"
		if avg >= 0.5 {
			label = "positive"
		}
		synthesized := results[0]
		synthesized.Result.Label = label
		synthesized.Result.Score = avg
		synthesized.Result.Spans = nil
		return []StageResult{synthesized}

	default:
		return results
	}
}
