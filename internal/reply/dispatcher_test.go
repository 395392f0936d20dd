package reply

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/approval"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/safety"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
)

type scriptedClient struct {
	batches [][]agent.CompletionChunk
	calls   int
}

func (c *scriptedClient) Name() string { return "fake" }

func (c *scriptedClient) Complete(ctx context.Context, req agent.CompletionRequest) (<-chan agent.CompletionChunk, error) {
	batch := c.batches[c.calls%len(c.batches)]
	c.calls++
	ch := make(chan agent.CompletionChunk, len(batch))
	for _, chunk := range batch {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store := sessions.NewMemoryStore()
	reg := tools.NewRegistry()
	gate := tools.Gate{Safety: safety.DefaultConfig(), Approval: approval.NewMemoryStore()}
	engine := &agent.RunEngine{Tools: reg, Gate: gate, Sessions: store, Nodes: nodes.NewRegistry()}
	candidates := []agent.ModelCandidate{{Name: "fake-model", Client: &scriptedClient{batches: [][]agent.CompletionChunk{{{TextDelta: "hello there"}}}}}}

	return &Dispatcher{
		Engine:     engine,
		Sessions:   store,
		BasePrompt: "You are the assistant.",
		Models:     func(string) []agent.ModelCandidate { return candidates },
	}
}

func drainReply(t *testing.T, ch <-chan ReplyEvent) Result {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case re, ok := <-ch:
			if !ok {
				t.Fatal("channel closed before a terminal event")
			}
			if re.Done {
				return re.Result
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal reply event")
		}
	}
}

func TestDispatcherReplyRunsModel(t *testing.T) {
	d := newTestDispatcher(t)
	ch, err := d.Reply(context.Background(), "session-1", "agent-1", "hi", Options{})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	res := drainReply(t, ch)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
	if res.Reply != "hello there" {
		t.Fatalf("reply = %q, want %q", res.Reply, "hello there")
	}
	if res.ModelUsed != "fake-model" {
		t.Fatalf("modelUsed = %q, want fake-model", res.ModelUsed)
	}
}

func TestDispatcherReplyNoModelsConfigured(t *testing.T) {
	d := newTestDispatcher(t)
	d.Models = func(string) []agent.ModelCandidate { return nil }
	if _, err := d.Reply(context.Background(), "session-1", "agent-1", "hi", Options{}); err == nil {
		t.Fatal("expected an error when no model candidates are configured")
	}
}

func TestDispatcherInlineCommandShortCircuits(t *testing.T) {
	d := newTestDispatcher(t)
	d.Inline = []InlineCommand{StatusCommand(func() string { return "all good" })}

	ch, err := d.Reply(context.Background(), "session-1", "agent-1", "/status", Options{})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	res := drainReply(t, ch)
	if res.Reply != "all good" {
		t.Fatalf("reply = %q, want %q", res.Reply, "all good")
	}
	if res.ToolCallsCount != 0 || res.ModelUsed != "" {
		t.Fatalf("inline command should not touch the run engine: %+v", res)
	}
}

func TestDispatcherSystemPromptComposition(t *testing.T) {
	d := newTestDispatcher(t)
	d.Bootstrap = "bootstrap context"
	d.Skills = func() SkillSnapshot { return SkillSnapshot{PromptText: "skill: deploy", Version: 1} }

	got := d.systemPrompt()
	want := "You are the assistant.\n\nbootstrap context\n\nskill: deploy"
	if got != want {
		t.Fatalf("systemPrompt = %q, want %q", got, want)
	}
}

func TestDispatcherSystemPromptOverrideAppends(t *testing.T) {
	d := newTestDispatcher(t)
	ch, err := d.Reply(context.Background(), "session-1", "agent-1", "hi", Options{SystemPromptOverride: "stay terse"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	res := drainReply(t, ch)
	if res.Err != nil {
		t.Fatalf("unexpected run error: %v", res.Err)
	}
}
