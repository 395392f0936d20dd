package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentgate/internal/audit"
	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/observability"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// DefaultMaxIterations bounds the tool loop (§4.6 step 3).
const DefaultMaxIterations = 10

// DefaultHistoryLimit bounds how much prior transcript is assembled into
// the run's message list (§4.6 step 1).
const DefaultHistoryLimit = 20

// ModelCandidate is one entry in a run's ordered model fallback chain.
type ModelCandidate struct {
	Name   string
	Client ModelClient
}

// RunRequest is the input to one AgentRun (§4.6).
type RunRequest struct {
	RunID         string
	SessionKey    string
	AgentID       string
	UserMessage   string
	SystemPrompt  string
	Models        []ModelCandidate
	MaxIterations int
	HistoryLimit  int
	ReadOnly      bool
	Classifier    Classifier
	TierThreshold int
}

// RunEngine executes AgentRuns: the tool-using loop, with streaming events,
// cancellation, and model fallback (C6). Grounded on the teacher's
// internal/agent.AgenticLoop (message assembly, tool dispatch loop,
// persistence shape) and internal/agent.FailoverOrchestrator (retry across
// providers), rebuilt against this gateway's Tool Registry and Session
// Store rather than the teacher's plugin/job/branch machinery.
type RunEngine struct {
	Tools    *tools.Registry
	Gate     tools.Gate
	Sessions sessions.Store
	Nodes    *nodes.Registry

	// Tracer and Metrics are optional (§4.6a): each model call is wrapped in
	// an OTel span carrying runId/sessionKey/tier attributes, and
	// Prometheus counters/histograms record iterations-per-run, tool-call
	// latency by category, and fallback activations. Both are nil-safe.
	Tracer  *observability.Tracer
	Metrics *observability.Metrics

	// Audit records tool invocations, completions, and gate denials to the
	// persistent audit log (§6 "persistent state layout ... audit log").
	// Nil-safe, like Tracer and Metrics.
	Audit *audit.Logger
}

// Run starts one AgentRun and streams its events. The returned channel is
// closed after the terminal run.* event is sent.
func (e *RunEngine) Run(ctx context.Context, req RunRequest) (<-chan models.AgentEvent, error) {
	if len(req.Models) == 0 {
		return nil, fmt.Errorf("agent run %s: no model candidates configured", req.RunID)
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = DefaultMaxIterations
	}
	if req.HistoryLimit <= 0 {
		req.HistoryLimit = DefaultHistoryLimit
	}

	events := make(chan models.AgentEvent, 32)
	go e.run(ctx, req, events)
	return events, nil
}

type emitter struct {
	ch  chan<- models.AgentEvent
	seq uint64
	run string
}

func (em *emitter) emit(typ models.AgentEventType, iter int, mutate func(*models.AgentEvent)) {
	em.seq++
	ev := models.AgentEvent{
		Version:   1,
		Type:      typ,
		Time:      time.Now(),
		Sequence:  em.seq,
		RunID:     em.run,
		IterIndex: iter,
	}
	if mutate != nil {
		mutate(&ev)
	}
	em.ch <- ev
}

func (e *RunEngine) run(ctx context.Context, req RunRequest, out chan<- models.AgentEvent) {
	em := &emitter{ch: out, run: req.RunID}
	defer close(out)

	em.emit(models.AgentEventRunStarted, 0, nil)

	history, err := e.Sessions.History(ctx, req.SessionKey, req.HistoryLimit)
	if err != nil {
		e.finishError(em, err)
		return
	}

	tier := ClassifyTier(ctx, req.Classifier, req.UserMessage, req.TierThreshold)
	em.emit(models.AgentEventTurnStarted, 0, func(ev *models.AgentEvent) {
		ev.Text = &models.TextEventPayload{Text: "tier=" + string(tier)}
	})

	system := req.SystemPrompt
	if req.ReadOnly {
		system += "\n\nThis run is read-only: write, exec, and git-write tools are unavailable."
	}

	msgs := make([]CompletionMessage, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, CompletionMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, CompletionMessage{Role: models.RoleUser, Content: req.UserMessage})

	toolSchemas := toolSchemasFor(e.Tools)

	var lastText string
	var modelUsed string
	var totalIn, totalOut int
	exhausted := true
	iterationsUsed := 0

	for iter := 0; iter < req.MaxIterations; iter++ {
		iterationsUsed = iter + 1
		if ctx.Err() != nil {
			e.finishCancelled(em, req.RunID)
			return
		}

		em.emit(models.AgentEventIterStarted, iter, nil)

		candidates := make([]Candidate[aggregatedCompletion], 0, len(req.Models))
		for i, mc := range req.Models {
			mc := mc
			fellBack := i
			candidates = append(candidates, Candidate[aggregatedCompletion]{
				Model: ResolveModelAlias(mc.Name),
				Call: func(cctx context.Context) (aggregatedCompletion, int, error) {
					spanCtx, span := e.startSpan(cctx, "agentgate.model.complete", req, tier, iter, ResolveModelAlias(mc.Name))
					start := time.Now()
					agg, status, err := drainCompletion(spanCtx, mc.Client, CompletionRequest{
						Model:    ResolveModelAlias(mc.Name),
						System:   system,
						Messages: msgs,
						Tools:    toolSchemas,
					}, em, iter)
					e.recordModelCall(mc.Client.Name(), ResolveModelAlias(mc.Name), err, time.Since(start), agg.inputTokens, agg.outputTokens, fellBack)
					e.endSpan(span, err)
					return agg, status, err
				},
			})
		}

		agg, usedModel, err := RunWithModelFallback(ctx, candidates)
		if err != nil {
			if ctx.Err() != nil {
				e.finishCancelled(em, req.RunID)
				return
			}
			e.finishError(em, err)
			return
		}
		modelUsed = usedModel
		totalIn += agg.inputTokens
		totalOut += agg.outputTokens
		lastText = agg.text

		em.emit(models.AgentEventModelCompleted, iter, func(ev *models.AgentEvent) {
			ev.Stream = &models.StreamEventPayload{Final: agg.text, Model: usedModel, InputTokens: agg.inputTokens, OutputTokens: agg.outputTokens}
		})

		if len(agg.toolCalls) == 0 {
			exhausted = false
			em.emit(models.AgentEventIterFinished, iter, nil)
			break
		}

		assistantMsg := CompletionMessage{Role: models.RoleAssistant, Content: agg.text, ToolCalls: agg.toolCalls}
		msgs = append(msgs, assistantMsg)

		results := make([]models.ToolResult, 0, len(agg.toolCalls))
		for _, tc := range agg.toolCalls {
			res := e.dispatchTool(ctx, req, tc)
			results = append(results, res)

			resJSON, _ := json.Marshal(res)
			em.emit(models.AgentEventToolFinished, iter, func(ev *models.AgentEvent) {
				ev.Tool = &models.ToolEventPayload{CallID: tc.ID, Name: tc.ToolName, Success: !res.IsError, ResultJSON: resJSON}
			})
		}
		msgs = append(msgs, CompletionMessage{Role: models.RoleTool, ToolResults: results})

		em.emit(models.AgentEventIterFinished, iter, nil)
	}

	if exhausted {
		em.emit(models.AgentEventRunError, req.MaxIterations-1, func(ev *models.AgentEvent) {
			ev.Error = &models.ErrorEventPayload{Message: "tool loop exhausted before a final answer was produced", Code: "loop_exhausted", Retriable: false}
		})
	}
	if e.Metrics != nil {
		e.Metrics.RecordIterations(iterationsUsed)
	}

	reply := ScrubTrailingToolCallPreamble(lastText)

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Sessions.Append(saveCtx, req.SessionKey, models.RoleUser, req.UserMessage)
	_ = e.Sessions.Append(saveCtx, req.SessionKey, models.RoleAssistant, reply)

	if e.Nodes != nil {
		e.Nodes.CancelRun(req.RunID)
	}

	em.emit(models.AgentEventRunFinished, req.MaxIterations, func(ev *models.AgentEvent) {
		ev.Stream = &models.StreamEventPayload{Final: reply, Model: modelUsed, InputTokens: totalIn, OutputTokens: totalOut}
	})
}

func (e *RunEngine) finishError(em *emitter, err error) {
	em.emit(models.AgentEventRunError, 0, func(ev *models.AgentEvent) {
		ev.Error = &models.ErrorEventPayload{Message: err.Error(), Code: string(gatewayerr.KindOf(err)), Err: err}
	})
}

func (e *RunEngine) finishCancelled(em *emitter, runID string) {
	if e.Nodes != nil {
		e.Nodes.CancelRun(runID)
	}
	em.emit(models.AgentEventRunCancelled, 0, nil)
}

// dispatchTool enforces read-only mode and the Safety/Approval gate before
// handing the call to the Tool Registry (§4.6 "Read-only mode").
func (e *RunEngine) dispatchTool(ctx context.Context, req RunRequest, tc models.ToolCall) models.ToolResult {
	tool, ok := e.Tools.Get(tc.ToolName)
	if !ok {
		return models.ErrorResult(tc.ID, models.KindUnsupported, fmt.Sprintf("unknown tool %q", tc.ToolName))
	}

	if req.ReadOnly && isMutatingCategory(tool.Category) {
		return models.ErrorResult(tc.ID, models.KindPermissionDenied, "run is read-only: "+tc.ToolName+" is disabled")
	}

	resolvedCommand := resolveCommandArg(tc.Input)
	if err := e.Gate.Check(ctx, req.AgentID, tool.Category, resolvedCommand); err != nil {
		kind := models.KindPermissionDenied
		if gwErr, ok := err.(*gatewayerr.Error); ok {
			kind = toResultKind(gwErr.Kind)
		}
		if e.Audit != nil {
			e.Audit.LogToolDenied(ctx, tc.ToolName, tc.ID, err.Error(), string(tool.Category), req.SessionKey)
		}
		return models.ErrorResult(tc.ID, kind, err.Error())
	}

	if e.Audit != nil {
		e.Audit.LogToolInvocation(ctx, tc.ToolName, tc.ID, tc.Input, req.SessionKey)
	}

	toolCtx, span := e.startSpan(ctx, "agentgate.tool.dispatch", req, "", 0, tc.ToolName)
	start := time.Now()
	result := e.Tools.Dispatch(toolCtx, tc.ToolName, tc.Input)
	elapsed := time.Since(start)
	e.recordToolCall(string(tool.Category), result.IsError, elapsed)
	e.endSpan(span, nil)
	if e.Audit != nil {
		e.Audit.LogToolCompletion(ctx, tc.ToolName, tc.ID, !result.IsError, result.Content, elapsed, req.SessionKey)
	}
	return models.ToolResult{ToolCallID: tc.ID, Content: result.Content, IsError: result.IsError, Kind: toResultKind(result.Kind)}
}

func isMutatingCategory(c tools.Category) bool {
	switch c {
	case tools.CategoryWrite, tools.CategoryExec, tools.CategoryGit:
		return true
	default:
		return false
	}
}

func resolveCommandArg(args json.RawMessage) string {
	var parsed struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return ""
	}
	return parsed.Command
}

func toResultKind(k gatewayerr.Kind) models.ResultKind {
	switch k {
	case gatewayerr.KindPermissionDenied:
		return models.KindPermissionDenied
	case gatewayerr.KindNotFound:
		return models.KindNotFound
	case gatewayerr.KindValidation:
		return models.KindValidation
	case gatewayerr.KindIO:
		return models.KindIO
	case gatewayerr.KindTimeout:
		return models.KindTimeout
	case gatewayerr.KindUnsupported:
		return models.KindUnsupported
	default:
		return models.KindInternal
	}
}

func toolSchemasFor(reg *tools.Registry) []ToolSchema {
	list := reg.List()
	out := make([]ToolSchema, 0, len(list))
	for _, t := range list {
		out = append(out, ToolSchema{Name: t.Name, Description: t.Description, Parameters: t.SchemaRaw})
	}
	return out
}

type aggregatedCompletion struct {
	text         string
	toolCalls    []models.ToolCall
	inputTokens  int
	outputTokens int
}

// drainCompletion streams one model call to completion, forwarding each
// text delta as a model.delta event and accumulating tool calls and usage.
func drainCompletion(ctx context.Context, client ModelClient, req CompletionRequest, em *emitter, iter int) (aggregatedCompletion, int, error) {
	ch, err := client.Complete(ctx, req)
	if err != nil {
		return aggregatedCompletion{}, StatusFromString(err.Error()), err
	}

	var agg aggregatedCompletion
	for chunk := range ch {
		if chunk.Error != nil {
			return agg, StatusFromString(chunk.Error.Error()), chunk.Error
		}
		if chunk.TextDelta != "" {
			agg.text += chunk.TextDelta
			em.emit(models.AgentEventModelDelta, iter, func(ev *models.AgentEvent) {
				ev.Stream = &models.StreamEventPayload{Delta: chunk.TextDelta, Provider: client.Name(), Model: req.Model}
			})
		}
		if chunk.ToolCall != nil {
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = uuid.New().String()
			}
			agg.toolCalls = append(agg.toolCalls, tc)
			em.emit(models.AgentEventToolStarted, iter, func(ev *models.AgentEvent) {
				ev.Tool = &models.ToolEventPayload{CallID: tc.ID, Name: tc.ToolName, ArgsJSON: tc.Input}
			})
		}
		if chunk.InputTokens > 0 {
			agg.inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			agg.outputTokens = chunk.OutputTokens
		}
	}
	return agg, 0, nil
}
