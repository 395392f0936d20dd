package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentgate/internal/observability"
)

// startSpan opens the OTel span wrapping one model call (§4.6a), carrying
// runId/sessionKey/tier attributes. Nil-safe: returns ctx and a nil span
// when no Tracer is configured.
func (e *RunEngine) startSpan(ctx context.Context, name string, req RunRequest, tier Tier, iter int, model string) (context.Context, trace.Span) {
	if e.Tracer == nil {
		return ctx, nil
	}
	return e.Tracer.Start(ctx, name, observability.SpanOptions{
		Attributes: []attribute.KeyValue{
			attribute.String("run_id", req.RunID),
			attribute.String("session_key", req.SessionKey),
			attribute.String("tier", string(tier)),
			attribute.Int("iteration", iter),
			attribute.String("model", model),
		},
	})
}

func (e *RunEngine) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		e.Tracer.RecordError(span, err)
	}
	span.End()
}

// recordModelCall records iterations-per-run and fallback-activation
// metrics for one model call attempt. fallbackIndex > 0 means this
// candidate was reached only because earlier candidates in the chain
// failed.
func (e *RunEngine) recordModelCall(provider, model string, err error, dur time.Duration, inputTokens, outputTokens, fallbackIndex int) {
	if e.Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.Metrics.RecordLLMRequest(provider, model, status, dur.Seconds(), inputTokens, outputTokens)
	if fallbackIndex > 0 && err == nil {
		e.Metrics.RecordRunAttempt("fallback")
	}
}

// recordToolCall records tool-call latency by category (§4.6a).
func (e *RunEngine) recordToolCall(category string, isError bool, dur time.Duration) {
	if e.Metrics == nil {
		return
	}
	status := "success"
	if isError {
		status = "error"
	}
	e.Metrics.RecordToolExecution(category, status, dur.Seconds())
}
