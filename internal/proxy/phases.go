// Package proxy implements the three-phase guardrail orchestrator:
// ingress screening of the prompt, a midstream producer/pipeline/release
// task triple over streamed response fragments with a token holdback, and
// egress compliance scoring over the assembled response.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/checkstream/gateway/internal/audit"
	"github.com/checkstream/gateway/internal/errs"
	"github.com/checkstream/gateway/internal/executor"
	"github.com/checkstream/gateway/internal/metrics"
	"github.com/checkstream/gateway/internal/pipeline"
	"github.com/checkstream/gateway/internal/policy"
	"github.com/checkstream/gateway/internal/streaming"
	"github.com/checkstream/gateway/internal/tenant"
)

const defaultRedactionReplacement = "[REDACTED]"

// phaseTimeout converts the tenant's per-phase timeout_ms setting; zero or
// negative disables the deadline.
func phaseTimeout(rt *tenant.Runtime) time.Duration {
	return time.Duration(rt.PipelineSettings.TimeoutMS) * time.Millisecond
}

// executeWithTimeout runs p.Execute in its own goroutine and gives up when
// the phase timeout elapses. The abandoned execution finishes on its own;
// its result is discarded through the buffered channel.
func executeWithTimeout(p *pipeline.Pipeline, text string, timeout time.Duration) (pipeline.ExecutionResult, error) {
	if timeout <= 0 {
		return p.Execute(text)
	}

	type result struct {
		exec pipeline.ExecutionResult
		err  error
	}
	done := make(chan result, 1)
	go func() {
		exec, err := p.Execute(text)
		done <- result{exec, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.exec, r.err
	case <-timer.C:
		return pipeline.ExecutionResult{}, errs.ErrTimeout
	}
}

// IngressResult is Phase 1's verdict: either the request is blocked, or it
// forwards upstream with (possibly redacted) Text.
type IngressResult struct {
	Blocked     bool
	StopStatus  int
	StopMessage string
	Text        string
}

// RunIngress screens prompt against rt's ingress pipeline and policies,
// returning whether the request should be blocked outright and the text to
// actually forward upstream (after any Redact/Inject actions apply).
// Blocking condition: should_stop OR final_decision.score >
// tenant.safety_threshold.
func RunIngress(ctx context.Context, rt *tenant.Runtime, aud *audit.Service, requestID, prompt string) IngressResult {
	metrics.RequestReceived()

	exec, err := executeWithTimeout(rt.Pipelines.Ingress, prompt, phaseTimeout(rt))
	if err != nil {
		if errors.Is(err, errs.ErrTimeout) {
			metrics.Error("timeout")
			recordAudit(aud, requestID, "ingress", "timeout", map[string]any{"timeout_ms": rt.PipelineSettings.TimeoutMS}, audit.SeverityHigh, "")
			return IngressResult{Blocked: true, StopStatus: 504, StopMessage: "ingress screening timed out"}
		}
		// Ingress classifier errors are a hard stop, never forwarded.
		metrics.Error("ingress_classifier")
		recordAudit(aud, requestID, "ingress", "classifier_error", map[string]any{"error": err.Error()}, audit.SeverityHigh, "")
		return IngressResult{Blocked: true, StopStatus: 500, StopMessage: "ingress classification failed"}
	}
	metrics.ObservePipelineLatency("ingress", exec.TotalLatencyUS)

	scores := extractScores(exec)
	evalResults := rt.PolicyEngine.EvaluateText(prompt, scores)
	outcome := rt.ActionExecutor.Execute(evalResults)

	for _, ar := range outcome.AuditRecords {
		recordAudit(aud, requestID, "ingress", ar.Category, map[string]any{
			"rule": ar.RuleName, "policy": ar.PolicyName, "matched_content": ar.Context,
		}, audit.SeverityFromPolicy(ar.Severity), ruleRegulation(evalResults, ar.RuleName))
	}
	if len(evalResults) > 0 {
		metrics.PolicyTriggered("ingress")
	}

	blockedByScore := exec.FinalDecision != nil && exec.FinalDecision.Score > rt.PipelineSettings.SafetyThreshold
	if outcome.ShouldStop || blockedByScore {
		status := outcome.StopStatus
		message := outcome.StopMessage
		if !outcome.ShouldStop {
			status = 403
			message = "request blocked by safety policy"
		}
		metrics.Decision("ingress", "stop")
		recordAudit(aud, requestID, "ingress", "blocked", map[string]any{
			"status": status, "message": message,
		}, audit.SeverityHigh, "")
		return IngressResult{Blocked: true, StopStatus: status, StopMessage: message}
	}

	text := prompt
	if len(outcome.Modifications) > 0 {
		resolved := resolveSpans(prompt, outcome.Modifications, exec.StageResults)
		text = executor.ApplyModifications(prompt, resolved)
		metrics.Decision("ingress", "redact")
	} else {
		metrics.Decision("ingress", "forward")
	}

	return IngressResult{Text: text}
}

// Fragment is the unit Phase 2 consumes from the upstream stream adapter
// and, after screening, emits toward the client.
type Fragment = streaming.Fragment

// MidstreamEvent is one decision the release task emits toward the client:
// forwarded text, a terminal Stop, or a normal Done at end of stream.
type MidstreamEvent struct {
	Text        string
	Done        bool
	Stop        bool
	StopStatus  int
	StopMessage string
}

type midstreamVerdict struct {
	text        string
	stop        bool
	stopStatus  int
	stopMessage string
}

// RunMidstream drives the producer/pipeline/release task triple over
// rawLines, a channel of raw upstream SSE payload lines (prefix already
// stripped by the caller). It returns a channel of client-facing events and
// a channel that receives the full assembled (post-redaction) response text
// exactly once, only on normal completion (never on Stop or ctx
// cancellation, whose holdback is discarded).
func RunMidstream(ctx context.Context, rt *tenant.Runtime, aud *audit.Service, requestID string, rawLines <-chan []byte) (<-chan MidstreamEvent, <-chan string) {
	fragments := make(chan Fragment, 16)
	verdicts := make(chan midstreamVerdict, 16)
	events := make(chan MidstreamEvent, 16)
	assembled := make(chan string, 1)

	go produceFragments(ctx, rt, rawLines, fragments)
	go classifyFragments(ctx, rt, aud, requestID, fragments, verdicts)
	go releaseFragments(ctx, rt, verdicts, events, assembled)

	return events, assembled
}

func produceFragments(ctx context.Context, rt *tenant.Runtime, rawLines <-chan []byte, out chan<- Fragment) {
	defer close(out)
	for {
		select {
		case line, ok := <-rawLines:
			if !ok {
				return
			}
			text, emit, done := rt.StreamAdapter.ParseLine(line)
			if done {
				return
			}
			if !emit {
				continue
			}
			select {
			case out <- Fragment{Text: text, Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func classifyFragments(ctx context.Context, rt *tenant.Runtime, aud *audit.Service, requestID string, fragments <-chan Fragment, out chan<- midstreamVerdict) {
	defer close(out)

	sp := streaming.NewPipeline(streaming.Config{
		ContextChunks: rt.PipelineSettings.Streaming.ContextChunks,
		MaxBufferSize: rt.PipelineSettings.Streaming.MaxBufferSize,
		Delimiter:     " ",
	}, rt.Pipelines.Midstream)

	for {
		select {
		case frag, ok := <-fragments:
			if !ok {
				return
			}
			v := classifyOneFragment(rt, aud, requestID, sp, frag)
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
			if v.stop {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func classifyOneFragment(rt *tenant.Runtime, aud *audit.Service, requestID string, sp *streaming.Pipeline, frag Fragment) midstreamVerdict {
	sp.Buffer.Push(frag)
	exec, err := executeWithTimeout(sp.Pipeline, sp.Buffer.ContextText(), phaseTimeout(rt))
	if err != nil {
		// Midstream classifier errors and timeouts recover: forward the
		// fragment unmodified.
		if errors.Is(err, errs.ErrTimeout) {
			metrics.Error("timeout")
		} else {
			metrics.Error("midstream_classifier")
		}
		return midstreamVerdict{text: frag.Text}
	}
	metrics.ObservePipelineLatency("midstream", exec.TotalLatencyUS)

	scores := extractScores(exec)
	text := sp.Buffer.ContextText()
	evalResults := rt.PolicyEngine.EvaluateText(text, scores)
	outcome := rt.ActionExecutor.Execute(evalResults)

	for _, ar := range outcome.AuditRecords {
		recordAudit(aud, requestID, "midstream", ar.Category, map[string]any{
			"rule": ar.RuleName, "policy": ar.PolicyName, "matched_content": ar.Context,
		}, audit.SeverityFromPolicy(ar.Severity), ruleRegulation(evalResults, ar.RuleName))
	}
	if len(evalResults) > 0 {
		metrics.PolicyTriggered("midstream")
	}

	overThreshold := exec.FinalDecision != nil && exec.FinalDecision.Score > rt.PipelineSettings.ChunkThreshold
	redact := outcome.ShouldStop || len(outcome.Modifications) > 0 || overThreshold

	if outcome.ShouldStop {
		metrics.Decision("midstream", "stop")
		return midstreamVerdict{
			stop:        true,
			stopStatus:  outcome.StopStatus,
			stopMessage: outcome.StopMessage,
		}
	}

	if redact {
		metrics.Decision("midstream", "redact")
		return midstreamVerdict{text: redactionReplacement(outcome.Modifications)}
	}

	metrics.Decision("midstream", "forward")
	return midstreamVerdict{text: frag.Text}
}

// redactionReplacement returns the first Redact action's replacement text,
// or the documented default, for a whole-fragment substitution.
func redactionReplacement(mods []executor.Modification) string {
	for _, m := range mods {
		if m.Kind == executor.ModRedact && m.Content != "" {
			return m.Content
		}
	}
	return defaultRedactionReplacement
}

// releaseFragments enforces the holdback window: the last token_holdback
// decided fragments stay queued so a later Stop can still discard them
// before they ever reach the client.
func releaseFragments(ctx context.Context, rt *tenant.Runtime, verdicts <-chan midstreamVerdict, out chan<- MidstreamEvent, assembled chan<- string) {
	defer close(out)
	defer close(assembled)

	holdback := rt.TokenHoldback
	if holdback < 0 {
		holdback = 0
	}

	var queue []midstreamVerdict
	var delivered []string

	emit := func(v midstreamVerdict) bool {
		delivered = append(delivered, v.text)
		select {
		case out <- MidstreamEvent{Text: v.text}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case v, ok := <-verdicts:
			if !ok {
				for _, q := range queue {
					if !emit(q) {
						return
					}
				}
				select {
				case out <- MidstreamEvent{Done: true}:
				case <-ctx.Done():
					return
				}
				assembled <- joinAssembled(delivered)
				return
			}
			if v.stop {
				// Discard the whole holdback queue; nothing already
				// queued reaches the client.
				select {
				case out <- MidstreamEvent{Stop: true, StopStatus: v.stopStatus, StopMessage: v.stopMessage}:
				case <-ctx.Done():
				}
				return
			}

			queue = append(queue, v)
			if len(queue) > holdback {
				oldest := queue[0]
				queue = queue[1:]
				if !emit(oldest) {
					return
				}
			}
		case <-ctx.Done():
			// Client disconnect: holdback fragments are dropped.
			return
		}
	}
}

func joinAssembled(parts []string) string {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return string(buf)
}

// EgressResult summarizes Phase 3's compliance pass. It never gates the
// already-delivered response; findings surface only through audit and
// metrics.
type EgressResult struct {
	Evaluated int
	Warnings  int
}

// RunEgress runs rt's egress pipeline over the fully assembled response
// text, evaluates policies, executes actions, and records audits. A
// warning (log level warn) is emitted for any result scoring above 0.7.
func RunEgress(ctx context.Context, rt *tenant.Runtime, aud *audit.Service, requestID, assembledText string) EgressResult {
	if assembledText == "" {
		return EgressResult{}
	}

	exec, err := executeWithTimeout(rt.Pipelines.Egress, assembledText, phaseTimeout(rt))
	if err != nil {
		if errors.Is(err, errs.ErrTimeout) {
			// Egress timeout skips compliance scoring entirely.
			metrics.Error("timeout")
			slog.Warn("egress compliance scoring timed out", "request_id", requestID, "timeout_ms", rt.PipelineSettings.TimeoutMS)
			return EgressResult{}
		}
		// Egress errors are logged with a high-severity audit event;
		// the client has already received its response.
		metrics.Error("egress_classifier")
		slog.Warn("egress pipeline failed", "request_id", requestID, "error", err)
		recordAudit(aud, requestID, "egress", "classifier_error", map[string]any{"error": err.Error()}, audit.SeverityHigh, "")
		return EgressResult{}
	}
	metrics.ObservePipelineLatency("egress", exec.TotalLatencyUS)

	scores := extractScores(exec)
	evalResults := rt.PolicyEngine.EvaluateText(assembledText, scores)
	outcome := rt.ActionExecutor.Execute(evalResults)

	for _, ar := range outcome.AuditRecords {
		recordAudit(aud, requestID, "egress", ar.Category, map[string]any{
			"rule": ar.RuleName, "policy": ar.PolicyName, "matched_content": ar.Context,
		}, audit.SeverityFromPolicy(ar.Severity), ruleRegulation(evalResults, ar.RuleName))
	}
	if len(evalResults) > 0 {
		metrics.PolicyTriggered("egress")
	}

	warnings := 0
	for _, r := range evalResults {
		if r.Score > 0.7 {
			warnings++
			slog.Warn("egress policy score above warning threshold",
				"request_id", requestID, "rule", r.Rule.Name, "policy", r.Policy, "score", r.Score)
		}
	}

	return EgressResult{Evaluated: len(evalResults), Warnings: warnings}
}

// ruleRegulation looks up the regulation tag of the rule that produced an
// audit record, falling back to "" when the rule carries none. The tag
// is surfaced on persisted audit events for compliance export.
func ruleRegulation(results []policy.EvaluationResult, ruleName string) string {
	for _, r := range results {
		if r.Rule.Name == ruleName {
			return r.Rule.Regulation
		}
	}
	return ""
}

func recordAudit(aud *audit.Service, requestID, phase, eventType string, data map[string]any, severity audit.Severity, regulation string) {
	if aud == nil {
		return
	}
	ev := audit.NewPersistedEvent(eventType, data, severity).
		WithRequestID(requestID).
		WithPhase(phase)
	if regulation != "" {
		ev = ev.WithRegulation(regulation)
	}
	aud.Record(ev)
}
