package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/pkg/models"
)

func TestOpenAIMessages_ToolResultUsesToolRole(t *testing.T) {
	msgs := []agent.CompletionMessage{
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "call_1", Content: "42"}}},
	}
	out, err := openAIMessages(msgs, "be terse")
	if err != nil {
		t.Fatalf("openAIMessages: %v", err)
	}
	if out[0].Role != "system" || out[0].Content != "be terse" {
		t.Fatalf("expected system prompt prepended, got %+v", out[0])
	}
	if out[1].Role != "tool" || out[1].ToolCallID != "call_1" {
		t.Fatalf("expected tool-role message, got %+v", out[1])
	}
}

func TestOpenAITools_CarriesParameterSchema(t *testing.T) {
	params, _ := json.Marshal(map[string]any{"type": "object"})
	tools := openAITools([]agent.ToolSchema{{Name: "search", Description: "search the web", Parameters: params}})
	if len(tools) != 1 || tools[0].Function.Name != "search" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestAnthropicMessages_AssistantRoleRoundTrips(t *testing.T) {
	msgs := []agent.CompletionMessage{{Role: models.RoleAssistant, Content: "hi there"}}
	out, err := anthropicMessages(msgs)
	if err != nil {
		t.Fatalf("anthropicMessages: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one converted message, got %d", len(out))
	}
}
