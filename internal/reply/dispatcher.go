package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// SkillSnapshot is the read-only prompt contribution an external
// collaborator produces by discovering and auditing skill markdown files.
// The dispatcher never reads the filesystem for this itself.
type SkillSnapshot struct {
	PromptText string
	Version    int
}

// Result is what reply() returns to its caller (§4.8).
type Result struct {
	Reply          string
	ToolCallsCount int
	ModelUsed      string
	Err            error
}

// InlineCommand handles a short-circuited slash command without invoking
// the model. The bool return indicates whether text was recognized as one.
type InlineCommand func(ctx context.Context, sessionKey, text string) (reply string, handled bool)

// Dispatcher is the Reply Dispatcher (C8): a thin adapter from an inbound
// message to a system prompt and a run engine invocation. It never talks
// to the wire protocol directly — the Gateway Server owns that — and it
// never runs the model itself — the Run Engine does.
type Dispatcher struct {
	Engine       *agent.RunEngine
	Sessions     sessions.Store
	BasePrompt   string
	Bootstrap    string
	Skills       func() SkillSnapshot
	Inline       []InlineCommand
	Models       func(agentID string) []agent.ModelCandidate
	HistoryLimit int
}

// Options carries per-request overrides a caller may supply alongside the
// inbound message (the Gateway Server's `agent` method exposes both).
type Options struct {
	// SystemPromptOverride is appended after the composed base/bootstrap/
	// skills prompt, letting one call add run-specific instructions without
	// replacing the standing system prompt.
	SystemPromptOverride string
	ReadOnly             bool
}

// Reply is the single entry point described by §4.8: `reply(sessionKey,
// text, context) -> {reply, error, toolCallsCount, modelUsed}`. It returns
// a channel of agent events when the model loop runs, or a single
// synthetic completed result when an inline command short-circuited it.
func (d *Dispatcher) Reply(ctx context.Context, sessionKey, agentID, text string, opts Options) (<-chan ReplyEvent, error) {
	trimmed := strings.TrimSpace(text)
	for _, inline := range d.Inline {
		if reply, handled := inline(ctx, sessionKey, trimmed); handled {
			out := make(chan ReplyEvent, 1)
			out <- ReplyEvent{Done: true, Result: Result{Reply: reply}}
			close(out)
			return out, nil
		}
	}

	systemPrompt := d.systemPrompt()
	if override := strings.TrimSpace(opts.SystemPromptOverride); override != "" {
		if systemPrompt != "" {
			systemPrompt += "\n\n" + override
		} else {
			systemPrompt = override
		}
	}

	models := []agent.ModelCandidate(nil)
	if d.Models != nil {
		models = d.Models(agentID)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("reply dispatcher: no model candidates configured for agent %q", agentID)
	}

	runID := uuid.NewString()
	events, err := d.Engine.Run(ctx, agent.RunRequest{
		RunID:        runID,
		SessionKey:   sessionKey,
		AgentID:      agentID,
		UserMessage:  trimmed,
		SystemPrompt: systemPrompt,
		ReadOnly:     opts.ReadOnly,
		Models:       models,
		HistoryLimit: d.historyLimit(),
	})
	if err != nil {
		return nil, err
	}

	out := make(chan ReplyEvent, 32)
	go d.drain(events, out)
	return out, nil
}

func (d *Dispatcher) historyLimit() int {
	if d.HistoryLimit > 0 {
		return d.HistoryLimit
	}
	return agent.DefaultHistoryLimit
}

// ReplyEvent relays one agent event plus, on the terminal event, the final
// Result the Gateway Server's handler needs to answer its caller.
type ReplyEvent struct {
	Event  models.AgentEvent
	Done   bool
	Result Result
}

func (d *Dispatcher) drain(events <-chan models.AgentEvent, out chan<- ReplyEvent) {
	defer close(out)
	toolCalls := 0
	for ev := range events {
		if ev.Type == models.AgentEventToolFinished {
			toolCalls++
		}
		switch ev.Type {
		case models.AgentEventRunFinished:
			res := Result{ToolCallsCount: toolCalls}
			if ev.Stream != nil {
				res.Reply = ev.Stream.Final
				res.ModelUsed = ev.Stream.Model
			}
			out <- ReplyEvent{Event: ev, Done: true, Result: res}
			return
		case models.AgentEventRunError:
			res := Result{ToolCallsCount: toolCalls}
			if ev.Error != nil {
				res.Err = fmt.Errorf("%s", ev.Error.Message)
			}
			out <- ReplyEvent{Event: ev, Done: true, Result: res}
			return
		case models.AgentEventRunCancelled:
			out <- ReplyEvent{Event: ev, Done: true, Result: Result{ToolCallsCount: toolCalls, Err: context.Canceled}}
			return
		default:
			out <- ReplyEvent{Event: ev}
		}
	}
}

// systemPrompt composes the base assistant prompt, the optional first-run
// bootstrap context, and the skills snapshot's prompt text, in that order
// (§4.8 "Build the system prompt by composing...").
func (d *Dispatcher) systemPrompt() string {
	parts := make([]string, 0, 3)
	if base := strings.TrimSpace(d.BasePrompt); base != "" {
		parts = append(parts, base)
	}
	if boot := strings.TrimSpace(d.Bootstrap); boot != "" {
		parts = append(parts, boot)
	}
	if d.Skills != nil {
		if snap := d.Skills(); strings.TrimSpace(snap.PromptText) != "" {
			parts = append(parts, snap.PromptText)
		}
	}
	return strings.Join(parts, "\n\n")
}
