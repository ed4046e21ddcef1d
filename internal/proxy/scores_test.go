package proxy

import (
	"testing"

	"github.com/checkstream/gateway/internal/classifier"
	"github.com/checkstream/gateway/internal/pipeline"
)

func TestExtractScoresIncludesFinalDecision(t *testing.T) {
	exec := pipeline.ExecutionResult{
		StageResults: []pipeline.StageResult{
			{Classifier: "pii", Result: classifier.Result{Score: 0.4}},
			{Classifier: "toxicity", Result: classifier.Result{Score: 0.9}},
		},
		FinalDecision: &classifier.Result{Score: 0.9},
	}

	scores := extractScores(exec)
	if scores["pii"] != 0.4 || scores["toxicity"] != 0.9 {
		t.Fatalf("unexpected per-classifier scores: %+v", scores)
	}
	if scores["_final"] != 0.9 {
		t.Fatalf("expected _final score 0.9, got %v", scores["_final"])
	}
}

func TestExtractScoresNoFinalDecision(t *testing.T) {
	exec := pipeline.ExecutionResult{}
	scores := extractScores(exec)
	if _, ok := scores["_final"]; ok {
		t.Fatalf("did not expect _final key when FinalDecision is nil: %+v", scores)
	}
}
