// Package memorysearch implements the "memory" tool category (§3 Tool
// categories): a substring search over a session's own transcript in the
// Session Store, so an agent can recall something said earlier in the
// conversation without the caller re-sending it as context.
package memorysearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
)

// Tool searches a session's history for messages containing a query string.
type Tool struct {
	Sessions     sessions.Store
	HistoryLimit int
}

// New creates a memory-search tool backed by store.
func New(store sessions.Store) *Tool {
	return &Tool{Sessions: store, HistoryLimit: 200}
}

func (t *Tool) Name() string { return "memory_search" }

func (t *Tool) Description() string {
	return "Search this session's transcript for messages containing a query substring."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_key": map[string]any{
				"type":        "string",
				"description": "Session key to search within.",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Substring to search for, case-insensitive.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum matches to return (default 10).",
				"minimum":     1,
			},
		},
		"required": []string{"session_key", "query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		SessionKey string `json:"session_key"`
		Query      string `json:"query"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.SessionKey) == "" || strings.TrimSpace(input.Query) == "" {
		return toolError("session_key and query are required"), nil
	}
	if t.Sessions == nil {
		return toolError("session store unavailable"), nil
	}

	limit := t.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	history, err := t.Sessions.History(ctx, input.SessionKey, limit)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf(`{"error":%q}`, err.Error()), IsError: true, Kind: gatewayerr.KindIO}, nil
	}

	maxMatches := input.Limit
	if maxMatches <= 0 {
		maxMatches = 10
	}
	needle := strings.ToLower(input.Query)

	type match struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	matches := make([]match, 0, maxMatches)
	for _, msg := range history {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			matches = append(matches, match{Role: string(msg.Role), Content: msg.Content})
			if len(matches) >= maxMatches {
				break
			}
		}
	}

	payload, err := json.MarshalIndent(map[string]any{"matches": matches}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return tools.Result{Content: string(payload)}, nil
}

func toolError(message string) tools.Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return tools.Result{Content: string(payload), IsError: true, Kind: gatewayerr.KindValidation}
}
