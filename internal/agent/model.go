// Package agent implements the Agent Run Engine (C6): the tool-using loop
// that drives one AgentRun to completion, streaming chunk/step events,
// honoring cancellation, and falling back across model candidates on
// transient provider failures. Grounded on the teacher's
// internal/agent.AgenticLoop (message assembly, streaming tool-call
// dispatch, persistence) and internal/agent.FailoverOrchestrator (retry and
// failover classification), narrowed to this gateway's run-engine contract.
package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentgate/pkg/models"
)

// ModelClient is one LLM backend the engine can call. Implementations wrap
// a concrete provider SDK (e.g. sashabaranov/go-openai,
// anthropics/anthropic-sdk-go); see internal/providers.
type ModelClient interface {
	// Name identifies the client for logs, metrics, and fallback-chain
	// bookkeeping.
	Name() string
	// Complete sends one completion request and streams the response.
	Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error)
}

// CompletionMessage is one entry in the conversation sent to a model.
type CompletionMessage struct {
	Role        models.Role       `json:"role"`
	Content     string            `json:"content,omitempty"`
	ToolCalls   []models.ToolCall `json:"toolCalls,omitempty"`
	ToolResults []models.ToolResult `json:"toolResults,omitempty"`
}

// CompletionRequest is one model call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []ToolSchema
	MaxTokens int
}

// ToolSchema is the model-facing description of one registered tool.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// CompletionChunk is one piece of a streamed model response.
type CompletionChunk struct {
	TextDelta    string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}
