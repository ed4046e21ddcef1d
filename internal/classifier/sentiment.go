package classifier

import (
	"strings"
	"time"
)

var defaultPositiveLexicon = []string{
	"great", "good", "excellent", "amazing", "wonderful", "fantastic", "happy",
	"pleased", "love", "best", "perfect", "positive", "helpful", "brilliant",
}

var defaultNegativeLexicon = []string{
	"bad", "terrible", "awful", "horrible", "hate", "worst", "poor", "angry",
	"disappointed", "negative", "useless", "broken", "stupid",
}

// SentimentClassifier counts positive vs negative lexicon hits and maps the
// count pair to a positive-probability score with clamped bands.
type SentimentClassifier struct {
	tier      Tier
	positives []string
	negatives []string
	threshold float32
}

// NewSentimentClassifier builds the lexicon classifier with the default
// lexicon and a positive/negative decision threshold of 0.5.
func NewSentimentClassifier(tier Tier) *SentimentClassifier {
	return &SentimentClassifier{
		tier:      tier,
		positives: defaultPositiveLexicon,
		negatives: defaultNegativeLexicon,
		threshold: 0.5,
	}
}

func (c *SentimentClassifier) Name() string { return "sentiment" }
func (c *SentimentClassifier) Tier() Tier   { return c.tier }

func (c *SentimentClassifier) Classify(text string) (Result, error) {
	start := time.Now()
	lower := strings.ToLower(text)

	pos := countTerms(lower, c.positives)
	neg := countTerms(lower, c.negatives)

	score := sentimentScore(pos, neg)

	label := "negative"
	if score >= c.threshold {
		label = "positive"
	}

	return Result{
		Label:     label,
		Score:     score,
		LatencyUS: uint64(time.Since(start).Microseconds()),
	}, nil
}

func countTerms(text string, terms []string) int {
	count := 0
	for _, t := range terms {
		count += strings.Count(text, t)
	}
	return count
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sentimentScore maps (positive count, negative count) to a
// positive-probability in [0, 1]:
//   - none either way            -> 0.5
//   - positives only             -> clamp(0.92 + 0.03*(pos-1), [0.92, 0.99])
//   - negatives only             -> clamp(0.08 - 0.02*(neg-1), [0.01, 0.08])
//   - mixed                      -> clamp(pos/(pos+neg), [0.1, 0.9])
func sentimentScore(pos, neg int) float32 {
	switch {
	case pos == 0 && neg == 0:
		return 0.5
	case neg == 0:
		return clamp32(0.92+0.03*float32(pos-1), 0.92, 0.99)
	case pos == 0:
		return clamp32(0.08-0.02*float32(neg-1), 0.01, 0.08)
	default:
		ratio := float32(pos) / float32(pos+neg)
		return clamp32(ratio, 0.1, 0.9)
	}
}
