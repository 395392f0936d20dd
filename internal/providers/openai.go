package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIClient adapts the Chat Completions streaming API to agent.ModelClient.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oaiCfg), defaultModel: cfg.DefaultModel}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Complete(ctx context.Context, req agent.CompletionRequest) (<-chan agent.CompletionChunk, error) {
	messages, err := openAIMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{Model: model, Messages: messages, Stream: true}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openAITools(req.Tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	out := make(chan agent.CompletionChunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		toolCalls := make(map[int]*models.ToolCall)
		var inputTokens, outputTokens int

		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					for _, tc := range toolCalls {
						if tc.ID != "" && tc.ToolName != "" {
							out <- agent.CompletionChunk{ToolCall: tc}
						}
					}
					out <- agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
					return
				}
				out <- agent.CompletionChunk{Error: err}
				return
			}
			if resp.Usage != nil {
				inputTokens = resp.Usage.PromptTokens
				outputTokens = resp.Usage.CompletionTokens
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- agent.CompletionChunk{TextDelta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if toolCalls[idx] == nil {
					toolCalls[idx] = &models.ToolCall{}
				}
				if tc.ID != "" {
					toolCalls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[idx].ToolName = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					toolCalls[idx].Input = json.RawMessage(string(toolCalls[idx].Input) + tc.Function.Arguments)
				}
			}
			if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
				for _, tc := range toolCalls {
					if tc.ID != "" && tc.ToolName != "" {
						out <- agent.CompletionChunk{ToolCall: tc}
					}
				}
				toolCalls = make(map[int]*models.ToolCall)
			}
		}
	}()
	return out, nil
}

func openAIMessages(msgs []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch {
		case len(m.ToolResults) > 0:
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case len(m.ToolCalls) > 0:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.ToolName,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, oaiMsg)
		default:
			role := openai.ChatMessageRoleUser
			if m.Role == models.RoleAssistant {
				role = openai.ChatMessageRoleAssistant
			}
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
		}
	}
	return out, nil
}

func openAITools(schemas []agent.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		var params any
		_ = json.Unmarshal(s.Parameters, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
