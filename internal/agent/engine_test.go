package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/internal/approval"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/safety"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// scriptedClient replays a fixed sequence of chunk batches, one batch per
// call to Complete, in the teacher's fake-provider style.
type scriptedClient struct {
	name    string
	batches [][]CompletionChunk
	calls   int
}

func (c *scriptedClient) Name() string { return c.name }

func (c *scriptedClient) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	if c.calls >= len(c.batches) {
		c.calls++
		return nil, &FailoverError{Reason: ReasonServerError, Status: 500}
	}
	batch := c.batches[c.calls]
	c.calls++
	ch := make(chan CompletionChunk, len(batch))
	for _, chunk := range batch {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func textChunk(s string) CompletionChunk { return CompletionChunk{TextDelta: s} }

func newTestEngine(t *testing.T) (*RunEngine, *tools.Registry) {
	t.Helper()
	reg := tools.NewRegistry()
	gate := tools.Gate{Safety: safety.DefaultConfig(), Approval: approval.NewMemoryStore()}
	return &RunEngine{
		Tools:    reg,
		Gate:     gate,
		Sessions: sessions.NewMemoryStore(),
		Nodes:    nodes.NewRegistry(),
	}, reg
}

func drain(t *testing.T, ch <-chan models.AgentEvent) []models.AgentEvent {
	t.Helper()
	var out []models.AgentEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out draining event channel")
		}
	}
}

func TestRunEngine_CompletesWithoutToolCalls(t *testing.T) {
	engine, _ := newTestEngine(t)
	client := &scriptedClient{name: "fake", batches: [][]CompletionChunk{
		{textChunk("hello "), textChunk("world")},
	}}

	ch, err := engine.Run(context.Background(), RunRequest{
		RunID:       "run-1",
		SessionKey:  "session-1",
		UserMessage: "hi",
		Models:      []ModelCandidate{{Name: "fake-model", Client: client}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, ch)

	var final models.AgentEvent
	found := false
	for _, ev := range events {
		if ev.Type == models.AgentEventRunFinished {
			final = ev
			found = true
		}
	}
	if !found {
		t.Fatalf("no run.finished event in %+v", events)
	}
	if final.Stream == nil || final.Stream.Final != "hello world" {
		t.Fatalf("unexpected final reply: %+v", final.Stream)
	}

	history, err := engine.Sessions.History(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Content != "hi" || history[1].Content != "hello world" {
		t.Fatalf("unexpected persisted history: %+v", history)
	}
}

func TestRunEngine_DispatchesToolCallAndContinues(t *testing.T) {
	engine, reg := newTestEngine(t)
	called := false
	if err := reg.Register(tools.Tool{
		Name:     "echo",
		Category: tools.CategoryRead,
		Handler: func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
			called = true
			return tools.Result{Content: "echoed"}, nil
		},
	}, struct {
		Text string `json:"text"`
	}{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	client := &scriptedClient{name: "fake", batches: [][]CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", ToolName: "echo", Input: json.RawMessage(`{"text":"hi"}`)}}},
		{textChunk("done")},
	}}

	ch, err := engine.Run(context.Background(), RunRequest{
		RunID:       "run-2",
		SessionKey:  "session-2",
		UserMessage: "use echo",
		Models:      []ModelCandidate{{Name: "fake-model", Client: client}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, ch)

	if !called {
		t.Fatal("expected echo tool handler to run")
	}
	var sawToolFinished bool
	for _, ev := range events {
		if ev.Type == models.AgentEventToolFinished {
			sawToolFinished = true
		}
	}
	if !sawToolFinished {
		t.Fatalf("expected a tool.finished event, got %+v", events)
	}
}

func TestRunEngine_ReadOnlyModeBlocksWriteTool(t *testing.T) {
	engine, reg := newTestEngine(t)
	if err := reg.Register(tools.Tool{
		Name:     "write_file",
		Category: tools.CategoryWrite,
		Handler: func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
			t.Fatal("write_file handler must not run in read-only mode")
			return tools.Result{}, nil
		},
	}, struct{}{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	client := &scriptedClient{name: "fake", batches: [][]CompletionChunk{
		{{ToolCall: &models.ToolCall{ID: "call-1", ToolName: "write_file", Input: json.RawMessage(`{}`)}}},
		{textChunk("ok")},
	}}

	ch, err := engine.Run(context.Background(), RunRequest{
		RunID:       "run-3",
		SessionKey:  "session-3",
		UserMessage: "write something",
		ReadOnly:    true,
		Models:      []ModelCandidate{{Name: "fake-model", Client: client}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, ch)

	var sawDenied bool
	for _, ev := range events {
		if ev.Type == models.AgentEventToolFinished && ev.Tool != nil && !ev.Tool.Success {
			sawDenied = true
		}
	}
	if !sawDenied {
		t.Fatalf("expected a failed tool.finished event for the blocked write, got %+v", events)
	}
}

func TestRunEngine_CancelledContextEmitsRunCancelled(t *testing.T) {
	engine, _ := newTestEngine(t)
	client := &scriptedClient{name: "fake", batches: [][]CompletionChunk{
		{textChunk("unreachable")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := engine.Run(ctx, RunRequest{
		RunID:       "run-4",
		SessionKey:  "session-4",
		UserMessage: "hi",
		Models:      []ModelCandidate{{Name: "fake-model", Client: client}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, ch)

	if len(events) == 0 || events[len(events)-1].Type != models.AgentEventRunCancelled {
		t.Fatalf("expected run.cancelled as the final event, got %+v", events)
	}
}

func TestRunEngine_NonRetriableModelErrorFailsImmediately(t *testing.T) {
	engine, _ := newTestEngine(t)
	client := &failingClient{name: "fake", err: &FailoverError{Reason: ReasonOther, Status: 400}}

	ch, err := engine.Run(context.Background(), RunRequest{
		RunID:       "run-5",
		SessionKey:  "session-5",
		UserMessage: "hi",
		Models:      []ModelCandidate{{Name: "fake-model", Client: client}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := drain(t, ch)

	if len(events) == 0 || events[len(events)-1].Type != models.AgentEventRunError {
		t.Fatalf("expected run.error as the final event, got %+v", events)
	}
}

type failingClient struct {
	name string
	err  error
}

func (c *failingClient) Name() string { return c.name }

func (c *failingClient) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	return nil, c.err
}
