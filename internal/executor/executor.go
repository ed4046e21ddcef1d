// Package executor implements ActionExecutor: it translates PolicyEngine
// evaluation results into a merged ActionOutcome and applies the resulting
// text modifications deterministically.
package executor

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/checkstream/gateway/internal/policy"
)

// ModificationKind distinguishes a Redact from an Inject modification.
type ModificationKind int

const (
	ModRedact ModificationKind = iota
	ModInject
)

// Span is a byte-offset range within the text being modified.
type Span struct {
	Start int
	End   int
}

// Modification is one text change produced by executing an action.
type Modification struct {
	Kind     ModificationKind
	Content  string
	Position policy.InjectPosition
	Span     *Span

	// MatchedContent is the rule's matched substring, for Redact
	// modifications with no classifier-supplied span: the orchestrator
	// searches for it in the text and substitutes the real bounds before
	// calling ApplyModifications. Empty for a pure classifier-threshold
	// rule, which has no substring to search for.
	MatchedContent string

	// ClassifierNames names the classifier(s) the triggering rule's
	// Trigger refers to. When MatchedContent is empty, the orchestrator
	// falls back to the named classifier's own reported spans (e.g. the
	// PII detector's per-match byte ranges) rather than replacing the
	// whole text.
	ClassifierNames []string
}

// AuditRecord is one audit entry produced by executing an Audit action.
type AuditRecord struct {
	RuleName   string
	PolicyName string
	Category   string
	Severity   policy.AuditSeverity
	Context    string
}

// ParameterAdaptation is one generation-parameter change produced by
// executing an Adapt action.
type ParameterAdaptation struct {
	Parameter string
	Value     float64
	Reason    string
}

// Outcome is the executor's merged verdict over one or more evaluation
// results.
type Outcome struct {
	ShouldStop  bool
	StopMessage string
	StopStatus  int

	Modifications []Modification
	AuditRecords  []AuditRecord
	Adaptations   []ParameterAdaptation

	stopSet bool
}

// HasActions reports whether any action produced observable effects.
func (o Outcome) HasActions() bool {
	return o.ShouldStop || len(o.Modifications) > 0 || len(o.AuditRecords) > 0 || len(o.Adaptations) > 0
}

// Merge folds other into o. should_stop is sticky; the first stop
// message/status installed wins over any later one.
func (o *Outcome) Merge(other Outcome) {
	if other.ShouldStop {
		o.ShouldStop = true
		if !o.stopSet {
			o.StopMessage = other.StopMessage
			o.StopStatus = other.StopStatus
			o.stopSet = true
		}
	}
	o.Modifications = append(o.Modifications, other.Modifications...)
	o.AuditRecords = append(o.AuditRecords, other.AuditRecords...)
	o.Adaptations = append(o.Adaptations, other.Adaptations...)
}

// Executor translates EvaluationResults into a merged Outcome.
type Executor struct {
	logger *slog.Logger
}

// New builds an Executor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute runs every action of every evaluation result and merges their
// outcomes in result order.
func (e *Executor) Execute(results []policy.EvaluationResult) Outcome {
	var outcome Outcome
	for _, result := range results {
		outcome.Merge(e.executeResult(result))
	}
	return outcome
}

func (e *Executor) executeResult(result policy.EvaluationResult) Outcome {
	var outcome Outcome

	for _, action := range result.Actions {
		switch action.Kind {
		case policy.ActionLog:
			e.executeLog(action, result.Rule.Name)

		case policy.ActionStop:
			outcome.ShouldStop = true
			outcome.StopMessage = action.StopMessage
			outcome.StopStatus = action.StatusCode
			outcome.stopSet = true
			e.logger.Warn("stopping stream due to policy violation",
				"rule", result.Rule.Name, "policy", result.Policy, "status", action.StatusCode)

		case policy.ActionRedact:
			// Span resolution is the orchestrator's job: always emit
			// a zero-width placeholder here; the caller resolves it either
			// by searching matched_content or, for a pure
			// classifier-threshold rule with no matched_content, by
			// falling back to the triggering classifier's own reported
			// spans, before calling ApplyModifications.
			span := &Span{Start: 0, End: 0}
			outcome.Modifications = append(outcome.Modifications, Modification{
				Kind:            ModRedact,
				Content:         action.Replacement,
				Span:            span,
				MatchedContent:  result.MatchedContent,
				ClassifierNames: result.Rule.Trigger.ClassifierNames(),
			})

		case policy.ActionInject:
			outcome.Modifications = append(outcome.Modifications, Modification{
				Kind:     ModInject,
				Content:  action.Content,
				Position: action.Position,
			})

		case policy.ActionAdapt:
			paramName := string(action.Parameter)
			outcome.Adaptations = append(outcome.Adaptations, ParameterAdaptation{
				Parameter: paramName,
				Value:     action.Value,
				Reason:    "rule '" + result.Rule.Name + "' adaptation",
			})

		case policy.ActionAudit:
			outcome.AuditRecords = append(outcome.AuditRecords, AuditRecord{
				RuleName:   result.Rule.Name,
				PolicyName: result.Policy,
				Category:   action.Category,
				Severity:   action.Severity,
				Context:    result.MatchedContent,
			})
			e.logAudit(action, result.Rule.Name)
		}
	}

	return outcome
}

func (e *Executor) executeLog(action policy.Action, ruleName string) {
	switch action.Level {
	case policy.LogLevelDebug:
		e.logger.Debug(action.Message, "rule", ruleName)
	case policy.LogLevelWarn:
		e.logger.Warn(action.Message, "rule", ruleName)
	case policy.LogLevelError:
		e.logger.Error(action.Message, "rule", ruleName)
	default:
		e.logger.Info(action.Message, "rule", ruleName)
	}
}

func (e *Executor) logAudit(action policy.Action, ruleName string) {
	switch action.Severity {
	case policy.SeverityCritical:
		e.logger.Error("critical audit event", "rule", ruleName, "category", action.Category)
	case policy.SeverityHigh:
		e.logger.Warn("high severity audit event", "rule", ruleName, "category", action.Category)
	case policy.SeverityMedium:
		e.logger.Info("medium severity audit event", "rule", ruleName, "category", action.Category)
	default:
		e.logger.Debug("low severity audit event", "rule", ruleName, "category", action.Category)
	}
}

// ResolveRedactionSpans fills in the real byte-offset span for every
// zero-width-placeholder Redact modification by searching for its
// MatchedContent in text. A modification whose MatchedContent isn't found,
// or is empty (a pure classifier-threshold rule with nothing to search
// for), keeps its zero-width span and becomes a no-op in
// ApplyModifications.
func ResolveRedactionSpans(text string, mods []Modification) []Modification {
	resolved := make([]Modification, len(mods))
	for i, m := range mods {
		if m.Kind == ModRedact && m.Span != nil && m.MatchedContent != "" {
			if idx := strings.Index(text, m.MatchedContent); idx >= 0 {
				m.Span = &Span{Start: idx, End: idx + len(m.MatchedContent)}
			}
		}
		resolved[i] = m
	}
	return resolved
}

// ApplyModifications applies modifications deterministically: span-bearing
// redactions are sorted by descending start and applied first (so earlier
// spans remain valid after a later one shrinks/grows the string), then
// injections apply in declaration order: Before prepends, Replace
// overwrites wholesale, After (the default) appends.
func ApplyModifications(text string, mods []Modification) string {
	result := text

	var redactions []Modification
	var injections []Modification
	for _, m := range mods {
		switch m.Kind {
		case ModRedact:
			redactions = append(redactions, m)
		case ModInject:
			injections = append(injections, m)
		}
	}

	sort.SliceStable(redactions, func(i, j int) bool {
		si, sj := redactions[i].Span, redactions[j].Span
		if si == nil || sj == nil {
			return false
		}
		return si.Start > sj.Start
	})

	for _, m := range redactions {
		if m.Span == nil {
			continue
		}
		start, end := m.Span.Start, m.Span.End
		if start < 0 || end > len(result) || start >= end {
			continue // zero-width or out-of-range span: no change
		}
		result = result[:start] + m.Content + result[end:]
	}

	for _, m := range injections {
		switch m.Position {
		case policy.InjectBefore:
			result = m.Content + result
		case policy.InjectReplace:
			result = m.Content
		default: // After, or unset
			result = result + m.Content
		}
	}

	return result
}
