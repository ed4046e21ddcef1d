// Package policy implements the rule matching engine: triggers, actions,
// rules, policies, and the PolicyEngine that evaluates them against text
// and per-phase classifier scores.
package policy

import "strings"

// Operator is the boolean combinator for a Composite trigger.
type Operator string

const (
	OperatorAND Operator = "AND"
	OperatorOR  Operator = "OR"
)

// TriggerKind distinguishes the four Trigger variants.
type TriggerKind string

const (
	TriggerPattern    TriggerKind = "pattern"
	TriggerClassifier TriggerKind = "classifier"
	TriggerContext    TriggerKind = "context"
	TriggerComposite  TriggerKind = "composite"
)

// Trigger is a tagged sum of the rule trigger variants. Exactly the fields relevant to
// Kind are populated.
type Trigger struct {
	Kind TriggerKind `yaml:"kind"`

	// Pattern
	Pattern         string `yaml:"pattern,omitempty"`
	CaseInsensitive bool   `yaml:"case_insensitive,omitempty"`

	// Classifier
	ClassifierName string  `yaml:"classifier_name,omitempty"`
	Threshold      float32 `yaml:"threshold,omitempty"`

	// Context
	Field         string `yaml:"field,omitempty"`
	ExpectedValue string `yaml:"expected_value,omitempty"`

	// Composite
	Operator Operator  `yaml:"operator,omitempty"`
	Triggers []Trigger `yaml:"triggers,omitempty"`
}

// MatchResult carries whether a trigger matched, the best-effort score to
// attribute to the match and, for Pattern triggers, the actual substring
// that matched, so the orchestrator can later locate it in the text for
// redaction.
type MatchResult struct {
	Matched bool
	Score   float32
	Content string
}

// contextLookup resolves Trigger.Context's named field from request
// metadata supplied by the host. No provider is wired yet, so every
// lookup reports not-found and Context triggers never match.
type contextLookup func(field string) (string, bool)

func noContext(string) (string, bool) { return "", false }

// Match evaluates the trigger against text and the current classifier
// score map, recursing over Composite.
func Match(t Trigger, text string, scores map[string]float32) MatchResult {
	return matchWithContext(t, text, scores, noContext)
}

func matchWithContext(t Trigger, text string, scores map[string]float32, lookup contextLookup) MatchResult {
	switch t.Kind {
	case TriggerPattern:
		return matchPattern(t, text)
	case TriggerClassifier:
		return matchClassifier(t, scores)
	case TriggerContext:
		return matchContext(t, lookup)
	case TriggerComposite:
		return matchComposite(t, text, scores, lookup)
	default:
		return MatchResult{}
	}
}

func matchPattern(t Trigger, text string) MatchResult {
	haystack, needle := text, t.Pattern
	if t.CaseInsensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}
	if idx := strings.Index(haystack, needle); idx >= 0 {
		// Slice the original, un-folded text so Content preserves the
		// source's actual casing for later substring search.
		return MatchResult{Matched: true, Score: 1.0, Content: text[idx : idx+len(needle)]}
	}
	return MatchResult{}
}

func matchClassifier(t Trigger, scores map[string]float32) MatchResult {
	score, ok := scores[t.ClassifierName]
	if !ok {
		return MatchResult{}
	}
	if score >= t.Threshold {
		return MatchResult{Matched: true, Score: score}
	}
	return MatchResult{}
}

func matchContext(t Trigger, lookup contextLookup) MatchResult {
	value, ok := lookup(t.Field)
	if !ok {
		return MatchResult{}
	}
	if value == t.ExpectedValue {
		return MatchResult{Matched: true, Score: 1.0}
	}
	return MatchResult{}
}

// ClassifierNames collects the name of every Classifier sub-trigger
// reachable from t (itself included), recursing over Composite. Used by
// the executor to tell the orchestrator which classifier's reported spans
// a Redact action's modification should fall back to when the rule has no
// literal matched_content.
func (t Trigger) ClassifierNames() []string {
	switch t.Kind {
	case TriggerClassifier:
		return []string{t.ClassifierName}
	case TriggerComposite:
		var out []string
		for _, sub := range t.Triggers {
			out = append(out, sub.ClassifierNames()...)
		}
		return out
	default:
		return nil
	}
}

func matchComposite(t Trigger, text string, scores map[string]float32, lookup contextLookup) MatchResult {
	var best float32
	var bestContent string
	matchedCount := 0
	for _, sub := range t.Triggers {
		r := matchWithContext(sub, text, scores, lookup)
		if r.Matched {
			matchedCount++
			if r.Score > best {
				best = r.Score
				bestContent = r.Content
			}
		}
	}

	switch t.Operator {
	case OperatorAND:
		if matchedCount == len(t.Triggers) && len(t.Triggers) > 0 {
			return MatchResult{Matched: true, Score: best, Content: bestContent}
		}
		return MatchResult{}
	default: // OR
		if matchedCount > 0 {
			return MatchResult{Matched: true, Score: best, Content: bestContent}
		}
		return MatchResult{}
	}
}
