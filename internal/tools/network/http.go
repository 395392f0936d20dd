// Package network implements the HTTP tool category (§4.4). It is a thin,
// bounded wrapper over net/http: no ecosystem HTTP client in the corpus
// targets ad hoc outbound requests on an agent's behalf, so this stays on
// the standard library rather than adopting ceremony a single GET/POST
// tool doesn't need.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/tools"
)

// Tool issues outbound HTTP requests on the agent's behalf.
type Tool struct {
	Client      *http.Client
	MaxBodyLen  int
}

// New creates an HTTP tool with sane request timeout and body-size defaults.
func New() *Tool {
	return &Tool{
		Client:     &http.Client{Timeout: 30 * time.Second},
		MaxBodyLen: 1 << 20,
	}
}

func (t *Tool) Name() string { return "http" }

func (t *Tool) Description() string {
	return "Issue an outbound HTTP request (GET, POST, PUT, PATCH, DELETE) and return status, headers, and a bounded body."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method (default GET).",
			},
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute URL to request.",
			},
			"headers": map[string]any{
				"type":        "object",
				"description": "Request headers.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body, if any.",
			},
		},
		"required": []string{"url"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.URL) == "" {
		return toolError("url is required"), nil
	}
	method := strings.ToUpper(strings.TrimSpace(input.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if input.Body != "" {
		body = bytes.NewBufferString(input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, input.URL, body)
	if err != nil {
		return toolError(fmt.Sprintf("build request: %v", err)), nil
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf(`{"error":%q}`, err.Error()), IsError: true, Kind: gatewayerr.KindIO}, nil
	}
	defer resp.Body.Close()

	limit := t.MaxBodyLen
	if limit <= 0 {
		limit = 1 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	if err != nil {
		return toolError(fmt.Sprintf("read response: %v", err)), nil
	}

	result := map[string]any{
		"status":  resp.StatusCode,
		"headers": resp.Header,
		"body":    string(data),
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return tools.Result{Content: string(payload), IsError: resp.StatusCode >= 400}, nil
}

func toolError(message string) tools.Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return tools.Result{Content: string(payload), IsError: true, Kind: gatewayerr.KindValidation}
}
