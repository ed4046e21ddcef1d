package proxy

import (
	"github.com/checkstream/gateway/internal/executor"
	"github.com/checkstream/gateway/internal/pipeline"
)

// resolveSpans fills in real byte-offset spans for every zero-width
// placeholder Redact modification executor.Execute produced: search
// MatchedContent in text first (pattern- and
// composite-triggered rules); for a pure classifier-threshold rule with no
// literal matched_content, fall back to the triggering classifier's own
// reported spans (e.g. the PII detector's per-match byte ranges) from this
// phase's pipeline run. A modification resolved to no span at all becomes a
// no-op in executor.ApplyModifications, the documented final fallback.
func resolveSpans(text string, mods []executor.Modification, stageResults []pipeline.StageResult) []executor.Modification {
	byMatchedContent := executor.ResolveRedactionSpans(text, mods)

	var out []executor.Modification
	for _, m := range byMatchedContent {
		if m.Kind == executor.ModRedact && spanIsPlaceholder(m) && m.MatchedContent == "" && len(m.ClassifierNames) > 0 {
			spans := classifierSpans(m.ClassifierNames, stageResults)
			if len(spans) == 0 {
				out = append(out, m)
				continue
			}
			for _, s := range spans {
				span := s
				out = append(out, executor.Modification{
					Kind:    executor.ModRedact,
					Content: m.Content,
					Span:    &span,
				})
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

func spanIsPlaceholder(m executor.Modification) bool {
	return m.Span != nil && m.Span.Start == 0 && m.Span.End == 0
}

// classifierSpans collects every byte span any of the named classifiers
// reported in this phase's pipeline run, in stage-result order.
func classifierSpans(names []string, stageResults []pipeline.StageResult) []executor.Span {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var out []executor.Span
	for _, sr := range stageResults {
		if !wanted[sr.Classifier] {
			continue
		}
		for _, s := range sr.Result.Spans {
			out = append(out, executor.Span{Start: s.Start, End: s.End})
		}
	}
	return out
}
