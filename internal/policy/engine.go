package policy

import (
	"sync"
)

// EvaluationResult is what a matched rule produces.
type EvaluationResult struct {
	Rule             Rule
	Policy           string
	Actions          []Action
	Score            float32
	MatchedContent   string
	ClassifierScores map[string]float32
}

// Engine holds an immutable set of policies and evaluates them against
// text and a per-phase classifier-score map.
//
// The score map is threaded through EvaluateText explicitly rather than
// mutated under a lock; SetClassifierScores/Evaluate are kept only for
// callers that prefer the mutating shape, behind a read-write lock with
// the critical section limited to the map swap.
type Engine struct {
	policies []Policy

	mu     sync.RWMutex
	scores map[string]float32
}

// NewEngine builds an engine over an immutable policy set. Rule order
// within a policy, and policy order within the engine, are preserved as
// given; policies are evaluated in load order.
func NewEngine(policies []Policy) *Engine {
	return &Engine{policies: policies, scores: map[string]float32{}}
}

// SetClassifierScores installs the current phase's score table, overwriting
// any previous one. The map is overwritten, never accumulated across
// phases.
func (e *Engine) SetClassifierScores(scores map[string]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scores = scores
}

// Evaluate runs EvaluateText against the engine's currently installed score
// map (set via SetClassifierScores).
func (e *Engine) Evaluate(text string) []EvaluationResult {
	e.mu.RLock()
	scores := e.scores
	e.mu.RUnlock()
	return e.EvaluateText(text, scores)
}

// EvaluateText iterates every enabled rule of every policy in load order,
// matching each rule's trigger against text and scores. Disabled rules are
// skipped entirely and never appear in results.
func (e *Engine) EvaluateText(text string, scores map[string]float32) []EvaluationResult {
	var out []EvaluationResult

	for _, p := range e.policies {
		for _, rule := range p.Rules {
			if !rule.IsEnabled() {
				continue
			}
			m := Match(rule.Trigger, text, scores)
			if !m.Matched {
				continue
			}

			actions := make([]Action, len(rule.Actions))
			for i, a := range rule.Actions {
				actions[i] = a.Default()
			}

			out = append(out, EvaluationResult{
				Rule:             rule,
				Policy:           p.Name,
				Actions:          actions,
				Score:            m.Score,
				MatchedContent:   m.Content,
				ClassifierScores: scores,
			})
		}
	}

	return out
}
