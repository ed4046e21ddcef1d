package classifier

import (
	"strings"
	"time"
)

// category is one severity tier of a CategoricalClassifier's hierarchy,
// checked in table order (highest severity first).
type category struct {
	label      string
	score      float32
	regulation string // optional; "" means none
	patterns   []string
}

// CategoricalClassifier groups patterns by severity category and reports
// the highest-severity category with any match ("highest-severity-wins"),
// short-circuiting on the first non-empty category in table order.
type CategoricalClassifier struct {
	name       string
	tier       Tier
	categories []category
	// fallback is returned when no category matches at all.
	fallback category
}

func (c *CategoricalClassifier) Name() string { return c.name }
func (c *CategoricalClassifier) Tier() Tier   { return c.tier }

func (c *CategoricalClassifier) Classify(text string) (Result, error) {
	start := time.Now()
	lower := strings.ToLower(text)

	for _, cat := range c.categories {
		var spans []Span
		var matchedPatterns []string
		for _, p := range cat.patterns {
			needle := strings.ToLower(p)
			for _, s := range allSpans(lower, needle) {
				spans = append(spans, s)
				matchedPatterns = append(matchedPatterns, p)
			}
		}
		if len(spans) == 0 {
			continue
		}
		extra := map[string]string{"category": cat.label}
		if cat.regulation != "" {
			extra["regulation"] = cat.regulation
		}
		if len(matchedPatterns) > 0 {
			extra["matched_pattern"] = matchedPatterns[0]
		}
		return Result{
			Label:     cat.label,
			Score:     cat.score,
			Spans:     spans,
			Extra:     extra,
			LatencyUS: uint64(time.Since(start).Microseconds()),
		}, nil
	}

	extra := map[string]string{"category": c.fallback.label}
	return Result{
		Label:     c.fallback.label,
		Score:     c.fallback.score,
		Extra:     extra,
		LatencyUS: uint64(time.Since(start).Microseconds()),
	}, nil
}

// NewFinancialAdviceClassifier builds the financial-advice classifier:
// ProhibitedClaim > Suitability > PersonalAdvice > Guidance > Information,
// with FCA regulation citations.
func NewFinancialAdviceClassifier(tier Tier) *CategoricalClassifier {
	return &CategoricalClassifier{
		name: "financial-advice",
		tier: tier,
		categories: []category{
			{
				label: "prohibited_claim", score: 0.98, regulation: "FCA COBS 4.2 - Misleading",
				patterns: []string{
					"guaranteed return", "guaranteed returns", "guaranteed profit", "guaranteed profits",
					"guaranteed income", "risk-free", "risk free", "no risk", "zero risk",
					"cannot lose", "can't lose", "will definitely", "certain to increase",
					"certain to grow", "double your money", "get rich quick", "easy money",
					"100% safe", "completely safe investment",
				},
			},
			{
				label: "suitability", score: 0.90, regulation: "FCA COBS 9A.2",
				patterns: []string{
					"is suitable for you", "is right for you", "is perfect for you", "is ideal for you",
					"matches your needs", "meets your requirements", "based on your situation",
					"based on your circumstances", "given your risk profile", "given your financial situation",
					"for someone in your position", "for your specific needs", "this product suits you",
					"this investment suits you", "recommend this for you", "you should choose this",
					"best option for you", "perfect fit for your",
				},
			},
			{
				label: "personal_advice", score: 0.75, regulation: "FCA COBS 9A",
				patterns: []string{
					"you should invest", "you should buy", "you should sell", "you should switch",
					"you need to invest", "i recommend", "i would recommend", "my recommendation",
					"my advice would be", "my advice is", "i suggest you", "i advise you",
					"you must invest", "you must buy", "open an account with", "transfer your pension to",
					"consolidate your pensions", "move your isa to", "switch your provider to",
					"put your money in", "invest in this",
				},
			},
			{
				label: "guidance", score: 0.30, regulation: "FCA COBS 4",
				patterns: []string{
					"generally speaking", "as a general rule", "typically", "in general",
					"many people find", "some investors prefer", "options include", "you might consider",
					"you could consider", "one option is", "another option is", "it may be worth",
					"it might be worth", "you may want to", "factors to consider", "things to think about",
					"questions to ask yourself", "speak to a financial adviser", "consult a financial adviser",
					"seek professional advice",
				},
			},
			{
				label: "information", score: 0.10,
				patterns: []string{
					"an isa is", "a pension is", "a sipp is", "isas are", "pensions are",
					"stocks and shares", "the difference between", "how does a", "what is a",
					"defined as", "this means that", "for example", "historically", "tax rules",
					"hmrc allows", "the annual allowance", "contribution limits", "tax relief",
					"capital gains tax", "inheritance tax",
				},
			},
		},
		fallback: category{label: "information", score: 0.10},
	}
}

// NewPromptInjectionClassifier builds the prompt-injection classifier:
// Jailbreak > InstructionOverride > SystemExtraction > RoleSwitching >
// DelimiterAttack.
func NewPromptInjectionClassifier(tier Tier) *CategoricalClassifier {
	return &CategoricalClassifier{
		name: "prompt-injection",
		tier: tier,
		categories: []category{
			{
				label: "jailbreak", score: 0.98,
				patterns: []string{
					"dan mode", "dan:", "jailbreak", "jailbroken", "developer mode", "dev mode",
					"god mode", "unrestricted mode", "no restrictions", "without restrictions",
					"bypass your", "bypass all", "disable your", "disable all safety",
					"ignore safety", "remove all filters", "hypothetically speaking",
					"for educational purposes", "in a fictional scenario",
				},
			},
			{
				label: "instruction_override", score: 0.95,
				patterns: []string{
					"ignore previous instructions", "ignore all previous instructions",
					"ignore your instructions", "ignore the above", "disregard previous",
					"disregard your system", "disregard all prior", "forget your instructions",
					"forget everything above", "forget your previous", "override your instructions",
					"new instructions:", "your new instructions are", "instead, do the following",
					"do not follow your",
				},
			},
			{
				label: "system_extraction", score: 0.90,
				patterns: []string{
					"repeat your instructions", "repeat your system", "repeat the above",
					"show your instructions", "show your system prompt", "print your instructions",
					"print your system", "what are your instructions", "what is your system prompt",
					"tell me your instructions", "reveal your instructions", "reveal your system",
					"display your prompt", "output your instructions", "echo your system",
				},
			},
			{
				label: "role_switching", score: 0.85,
				patterns: []string{
					"you are now", "you're now", "act as", "act like", "pretend to be",
					"pretend you're", "pretend you are", "roleplay as", "play the role of",
					"assume the role", "from now on you are", "from now on, you are",
					"imagine you are", "imagine you're", "behave as", "respond as", "speak as",
				},
			},
			{
				label: "delimiter_attack", score: 0.80,
				patterns: []string{
					"```system", "[system]", "<|system|>", "<<SYS>>", "<</SYS>>", "### system",
					"## system:", "### instruction", "---\nsystem", "end of user input",
					"begin system prompt", "[INST]", "[/INST]", "<s>", "</s>",
				},
			},
		},
		fallback: category{label: "clean", score: 0.0},
	}
}
