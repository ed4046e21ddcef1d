package proxy

import "github.com/checkstream/gateway/internal/pipeline"

// extractScores builds the per-classifier score map a PolicyEngine
// evaluation needs: one entry per stage result keyed by classifier name,
// plus "_final" mapped to the pipeline's final_decision score.
func extractScores(exec pipeline.ExecutionResult) map[string]float32 {
	scores := make(map[string]float32, len(exec.StageResults)+1)
	for _, sr := range exec.StageResults {
		scores[sr.Classifier] = sr.Result.Score
	}
	if exec.FinalDecision != nil {
		scores["_final"] = exec.FinalDecision.Score
	}
	return scores
}
