package classifier

import (
	"strings"
	"time"
)

// LabeledPattern is one (label, substring) entry in a PatternClassifier's
// table.
type LabeledPattern struct {
	Label   string
	Pattern string
}

// PatternClassifier is a multi-pattern, case-insensitive exact-substring
// matcher. It reports the label of the first match it finds (in table
// declaration order) together with every span of that label within the
// text; when nothing matches it reports the clean label with score 0.
type PatternClassifier struct {
	name     string
	tier     Tier
	patterns []LabeledPattern
}

// NewPatternClassifier builds a classifier over the given label/pattern
// table. Construction fails only when patterns is empty.
func NewPatternClassifier(name string, tier Tier, patterns []LabeledPattern) (*PatternClassifier, error) {
	if len(patterns) == 0 {
		return nil, &Error{Classifier: name, Err: ErrConstruction}
	}
	return &PatternClassifier{name: name, tier: tier, patterns: patterns}, nil
}

func (c *PatternClassifier) Name() string { return c.name }
func (c *PatternClassifier) Tier() Tier   { return c.tier }

func (c *PatternClassifier) Classify(text string) (Result, error) {
	start := time.Now()
	lower := strings.ToLower(text)

	for _, p := range c.patterns {
		needle := strings.ToLower(p.Pattern)
		if needle == "" {
			continue
		}
		idx := strings.Index(lower, needle)
		if idx < 0 {
			continue
		}
		spans := allSpans(lower, needle)
		return Result{
			Label:     p.Label,
			Score:     1.0,
			Spans:     spans,
			LatencyUS: uint64(time.Since(start).Microseconds()),
		}, nil
	}

	return Result{
		Label:     "clean",
		Score:     0.0,
		LatencyUS: uint64(time.Since(start).Microseconds()),
	}, nil
}

func allSpans(haystack, needle string) []Span {
	var spans []Span
	offset := 0
	for {
		idx := strings.Index(haystack[offset:], needle)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(needle)
		spans = append(spans, Span{Start: start, End: end})
		offset = end
	}
	return spans
}
