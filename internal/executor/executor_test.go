package executor

import (
	"testing"

	"github.com/checkstream/gateway/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(actions ...policy.Action) policy.EvaluationResult {
	return policy.EvaluationResult{
		Rule:    policy.Rule{Name: "test-rule"},
		Policy:  "test-policy",
		Score:   0.9,
		Actions: actions,
	}
}

func TestLogActionProducesNoOutcomeChange(t *testing.T) {
	e := New(nil)
	outcome := e.Execute([]policy.EvaluationResult{
		result(policy.Action{Kind: policy.ActionLog, Message: "hi", Level: policy.LogLevelInfo}),
	})
	assert.False(t, outcome.ShouldStop)
	assert.Empty(t, outcome.Modifications)
}

func TestStopActionSetsOutcome(t *testing.T) {
	e := New(nil)
	outcome := e.Execute([]policy.EvaluationResult{
		result(policy.Action{Kind: policy.ActionStop, StopMessage: "blocked", StatusCode: 403}),
	})
	assert.True(t, outcome.ShouldStop)
	assert.Equal(t, "blocked", outcome.StopMessage)
	assert.Equal(t, 403, outcome.StopStatus)
}

func TestFirstStopMessageWins(t *testing.T) {
	e := New(nil)
	outcome := e.Execute([]policy.EvaluationResult{
		result(policy.Action{Kind: policy.ActionStop, StopMessage: "first", StatusCode: 403}),
		result(policy.Action{Kind: policy.ActionStop, StopMessage: "second", StatusCode: 451}),
	})
	assert.True(t, outcome.ShouldStop)
	assert.Equal(t, "first", outcome.StopMessage)
	assert.Equal(t, 403, outcome.StopStatus)
}

func TestRedactAndAuditAndAdapt(t *testing.T) {
	e := New(nil)
	outcome := e.Execute([]policy.EvaluationResult{
		result(
			policy.Action{Kind: policy.ActionRedact, Replacement: "[REDACTED]"},
			policy.Action{Kind: policy.ActionAudit, Category: "financial_advice", Severity: policy.SeverityHigh},
			policy.Action{Kind: policy.ActionAdapt, Parameter: policy.ParamTemperature, Value: 0.5},
		),
	})
	require.Len(t, outcome.Modifications, 1)
	assert.Equal(t, ModRedact, outcome.Modifications[0].Kind)
	require.Len(t, outcome.AuditRecords, 1)
	assert.Equal(t, "financial_advice", outcome.AuditRecords[0].Category)
	require.Len(t, outcome.Adaptations, 1)
	assert.Equal(t, float64(0.5), outcome.Adaptations[0].Value)
}

func TestApplyInjectBeforeAfterReplace(t *testing.T) {
	assert.Equal(t, "WARNING: Hello", ApplyModifications("Hello", []Modification{
		{Kind: ModInject, Content: "WARNING: ", Position: policy.InjectBefore},
	}))
	assert.Equal(t, "Hello [END]", ApplyModifications("Hello", []Modification{
		{Kind: ModInject, Content: " [END]", Position: policy.InjectAfter},
	}))
	assert.Equal(t, "replaced", ApplyModifications("Hello", []Modification{
		{Kind: ModInject, Content: "replaced", Position: policy.InjectReplace},
	}))
}

func TestApplyRedactWithSpan(t *testing.T) {
	got := ApplyModifications("Hello World!", []Modification{
		{Kind: ModRedact, Content: "[REDACTED]", Span: &Span{Start: 6, End: 11}},
	})
	assert.Equal(t, "Hello [REDACTED]!", got)
}

func TestApplyRedactZeroWidthSpanNoChange(t *testing.T) {
	got := ApplyModifications("Hello", []Modification{
		{Kind: ModRedact, Content: "[REDACTED]", Span: &Span{Start: 2, End: 2}},
	})
	assert.Equal(t, "Hello", got)
}

func TestApplyRedactionsDescendingStartThenInjectionsInOrder(t *testing.T) {
	got := ApplyModifications("ab cd ef", []Modification{
		{Kind: ModRedact, Content: "XX", Span: &Span{Start: 0, End: 2}},
		{Kind: ModRedact, Content: "YY", Span: &Span{Start: 6, End: 8}},
		{Kind: ModInject, Content: "!", Position: policy.InjectAfter},
	})
	assert.Equal(t, "XX cd YY!", got)
}

func TestApplyModificationsIdempotentOnEmptyModsList(t *testing.T) {
	once := ApplyModifications("hello", []Modification{{Kind: ModInject, Content: "!", Position: policy.InjectAfter}})
	twice := ApplyModifications(once, nil)
	assert.Equal(t, once, twice)
}

func TestMultipleActionsAcrossResults(t *testing.T) {
	e := New(nil)
	outcome := e.Execute([]policy.EvaluationResult{
		result(
			policy.Action{Kind: policy.ActionLog, Message: "issue detected", Level: policy.LogLevelWarn},
			policy.Action{Kind: policy.ActionAudit, Category: "safety", Severity: policy.SeverityMedium},
			policy.Action{Kind: policy.ActionStop, StopMessage: "blocked for safety", StatusCode: 451},
		),
	})
	assert.True(t, outcome.ShouldStop)
	assert.Equal(t, 451, outcome.StopStatus)
	require.Len(t, outcome.AuditRecords, 1)
}
