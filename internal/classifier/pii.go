package classifier

import (
	"regexp"
	"strconv"
	"time"
)

var (
	piiEmailRe   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	piiPhoneRe   = regexp.MustCompile(`\b(\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)
	piiSSNRe     = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	piiCardRe    = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
	piiTypeOrder = []struct {
		name string
		re   *regexp.Regexp
	}{
		{"email", piiEmailRe},
		{"phone", piiPhoneRe},
		{"ssn", piiSSNRe},
		{"credit_card", piiCardRe},
	}
)

// PIIClassifier scans text with four independent regexes: email, NANP
// phone, SSN, and 16-digit credit card. Each matching type is recorded in
// Extra (type -> "start:end"); the classifier is infallible at runtime.
type PIIClassifier struct {
	tier Tier
}

// NewPIIClassifier returns the standard PII detector, hardcoded under the
// name "pii_detector".
func NewPIIClassifier(tier Tier) *PIIClassifier {
	return &PIIClassifier{tier: tier}
}

func (c *PIIClassifier) Name() string { return "pii_detector" }
func (c *PIIClassifier) Tier() Tier   { return c.tier }

func (c *PIIClassifier) Classify(text string) (Result, error) {
	start := time.Now()

	var spans []Span
	extra := make(map[string]string)
	found := false

	for _, t := range piiTypeOrder {
		loc := t.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		found = true
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
		extra[t.name] = strconv.Itoa(loc[0]) + ":" + strconv.Itoa(loc[1])
	}

	if !found {
		return Result{
			Label:     "no_pii",
			Score:     0.0,
			LatencyUS: uint64(time.Since(start).Microseconds()),
		}, nil
	}

	return Result{
		Label:     "pii_detected",
		Score:     1.0,
		Spans:     spans,
		Extra:     extra,
		LatencyUS: uint64(time.Since(start).Microseconds()),
	}, nil
}
