package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/reply"
	"github.com/haasonsaas/agentgate/pkg/models"
)

// dispatch runs one req frame's method handler (§4.7 method dispatch
// table). Methods that stream further events return immediately after
// accepting the request; `agent` is the prototypical example.
func (s *Server) dispatch(c *Connection, f Frame) {
	switch f.Method {
	case "health", "status":
		c.sendRes(f.ID, true, s.snapshot(), nil)
	case "chat.history", "chat.export":
		s.handleChatHistory(c, f)
	case "chat.replace":
		s.handleChatReplace(c, f)
	case "agent":
		s.handleAgent(c, f)
	case "agent.cancel":
		s.handleAgentCancel(c, f)
	case "node.list":
		s.handleNodeList(c, f)
	case "node.invoke":
		s.handleNodeInvoke(c, f)
	case "sessions.list":
		s.handleSessionsList(c, f)
	case "sessions.resolve":
		s.handleSessionsResolve(c, f)
	case "sessions.patch":
		s.handleSessionsPatch(c, f)
	case "approval.grant":
		s.handleApprovalGrant(c, f)
	default:
		c.sendErrorRes(f.ID, "unsupported", "unknown method "+f.Method)
	}
}

type chatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleChatHistory(c *Connection, f Frame) {
	var p chatHistoryParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	msgs, err := s.sessions.History(c.ctx, p.SessionKey, p.Limit)
	if err != nil {
		c.sendErrorRes(f.ID, string(gatewayerr.KindOf(err)), err.Error())
		return
	}
	c.sendRes(f.ID, true, map[string]any{"messages": msgs}, nil)
}

type chatReplaceParams struct {
	SessionKey string                  `json:"sessionKey"`
	Messages   []models.SessionMessage `json:"messages"`
}

func (s *Server) handleChatReplace(c *Connection, f Frame) {
	var p chatReplaceParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	if err := s.sessions.Replace(c.ctx, p.SessionKey, p.Messages); err != nil {
		c.sendErrorRes(f.ID, string(gatewayerr.KindOf(err)), err.Error())
		return
	}
	c.sendRes(f.ID, true, map[string]any{"replaced": len(p.Messages)}, nil)
}

type agentParams struct {
	SessionKey   string `json:"sessionKey"`
	AgentID      string `json:"agentId,omitempty"`
	UserMessage  string `json:"userMessage"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	ReadOnly     bool   `json:"readOnly,omitempty"`
}

// handleAgent starts an AgentRun (§4.6, §4.7 "agent"): one active run per
// SessionKey. A second request for a busy session is rejected immediately;
// the caller learns the session is free again via `agent.idle`.
func (s *Server) handleAgent(c *Connection, f Frame) {
	var p agentParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	if s.dispatcher == nil && (s.engine == nil || len(s.models) == 0) {
		c.sendErrorRes(f.ID, "internal", "agent run engine not configured")
		return
	}

	runID := uuid.New().String()
	if !s.tryAcquireSession(p.SessionKey, runID) {
		c.sendRes(f.ID, false, map[string]any{"busy": true}, nil)
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.recordRunCancel(runID, c.ID, cancel)

	c.sendRes(f.ID, true, map[string]any{"runId": runID, "status": "accepted"}, nil)

	go s.runAgent(runCtx, cancel, c, runID, p)
}

func (s *Server) runAgent(ctx context.Context, cancel context.CancelFunc, c *Connection, runID string, p agentParams) {
	defer cancel()
	defer s.clearRunCancel(runID)
	defer s.releaseSession(p.SessionKey)

	if s.dispatcher != nil {
		s.runAgentViaDispatcher(ctx, c, runID, p)
		return
	}

	events, err := s.engine.Run(ctx, agent.RunRequest{
		RunID:        runID,
		SessionKey:   p.SessionKey,
		AgentID:      p.AgentID,
		UserMessage:  p.UserMessage,
		SystemPrompt: p.SystemPrompt,
		ReadOnly:     p.ReadOnly,
		Models:       s.models,
	})
	if err != nil {
		c.sendEvent("agent", map[string]any{"runId": runID, "status": "failed", "error": err.Error()})
		s.forEachRole(RoleOperator, func(op *Connection) { op.sendEvent("agent.idle", map[string]any{"sessionKey": p.SessionKey}) })
		return
	}

	for ev := range events {
		s.forwardRunEvent(c, runID, ev)
	}
	s.forEachRole(RoleOperator, func(op *Connection) { op.sendEvent("agent.idle", map[string]any{"sessionKey": p.SessionKey}) })
}

// runAgentViaDispatcher routes one agent request through the Reply
// Dispatcher (C8), which composes the system prompt (base + bootstrap +
// skills snapshot) and short-circuits recognized inline commands before
// ever invoking the run engine.
func (s *Server) runAgentViaDispatcher(ctx context.Context, c *Connection, runID string, p agentParams) {
	events, err := s.dispatcher.Reply(ctx, p.SessionKey, p.AgentID, p.UserMessage, reply.Options{
		SystemPromptOverride: p.SystemPrompt,
		ReadOnly:             p.ReadOnly,
	})
	if err != nil {
		c.sendEvent("agent", map[string]any{"runId": runID, "status": "failed", "error": err.Error()})
		s.forEachRole(RoleOperator, func(op *Connection) { op.sendEvent("agent.idle", map[string]any{"sessionKey": p.SessionKey}) })
		return
	}

	for re := range events {
		if re.Done {
			if re.Event.Type == models.AgentEventRunCancelled {
				s.forwardRunEvent(c, runID, re.Event)
			} else if re.Result.Err != nil {
				c.sendEvent("agent", map[string]any{"runId": runID, "status": "failed", "error": re.Result.Err.Error()})
			} else if re.Event.Type == "" {
				// An inline command short-circuited the run: no underlying
				// agent event, so there's nothing for forwardRunEvent to map.
				c.sendEvent("agent", map[string]any{
					"runId": runID, "status": "completed",
					"reply": re.Result.Reply, "toolCalls": re.Result.ToolCallsCount,
				})
			} else {
				s.forwardRunEvent(c, runID, re.Event)
			}
			continue
		}
		s.forwardRunEvent(c, runID, re.Event)
	}
	s.forEachRole(RoleOperator, func(op *Connection) { op.sendEvent("agent.idle", map[string]any{"sessionKey": p.SessionKey}) })
}

// forwardRunEvent maps the engine's internal event stream onto the three
// wire events `agent` cares about: `chunk`, `step`, and the terminal
// `agent` event (§4.6 steps 3b, 6).
func (s *Server) forwardRunEvent(c *Connection, runID string, ev models.AgentEvent) {
	switch ev.Type {
	case models.AgentEventModelDelta:
		if ev.Stream != nil {
			c.sendEvent("chunk", map[string]any{"runId": runID, "delta": ev.Stream.Delta})
		}
	case models.AgentEventToolStarted:
		if ev.Tool != nil {
			c.sendEvent("step", map[string]any{"runId": runID, "callId": ev.Tool.CallID, "tool": ev.Tool.Name, "phase": "started", "args": json.RawMessage(ev.Tool.ArgsJSON)})
		}
	case models.AgentEventToolFinished:
		if ev.Tool != nil {
			c.sendEvent("step", map[string]any{"runId": runID, "callId": ev.Tool.CallID, "tool": ev.Tool.Name, "phase": "finished", "success": ev.Tool.Success, "result": json.RawMessage(ev.Tool.ResultJSON)})
		}
	case models.AgentEventRunFinished:
		status := map[string]any{"runId": runID, "status": "completed"}
		if ev.Stream != nil {
			status["reply"] = ev.Stream.Final
			status["model"] = ev.Stream.Model
			status["inputTokens"] = ev.Stream.InputTokens
			status["outputTokens"] = ev.Stream.OutputTokens
		}
		c.sendEvent("agent", status)
	case models.AgentEventRunError:
		msg := ""
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		c.sendEvent("agent", map[string]any{"runId": runID, "status": "failed", "error": msg})
	case models.AgentEventRunCancelled:
		c.sendEvent("agent", map[string]any{"runId": runID, "status": "cancelled"})
	}
}

func (s *Server) handleAgentCancel(c *Connection, f Frame) {
	var p struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	ok := s.cancelRun(p.RunID)
	c.sendRes(f.ID, true, map[string]any{"cancelled": ok}, nil)
}

// nodeListEntry is the wire-safe projection of a nodes.Record (Sender is a
// live connection handle, not serializable).
type nodeListEntry struct {
	ConnID      string   `json:"connId"`
	Caps        []string `json:"caps"`
	Commands    []string `json:"commands"`
	Permissions []string `json:"permissions"`
}

func (s *Server) handleNodeList(c *Connection, f Frame) {
	entries := []nodeListEntry{}
	if s.nodes != nil {
		for _, rec := range s.nodes.List() {
			entries = append(entries, nodeListEntry{
				ConnID:      rec.ConnID,
				Caps:        boolSetKeys(rec.Caps),
				Commands:    boolSetKeys(rec.Commands),
				Permissions: boolSetKeys(rec.Permissions),
			})
		}
	}
	c.sendRes(f.ID, true, map[string]any{"nodes": entries}, nil)
}

func boolSetKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type nodeInvokeParams struct {
	ConnID    string          `json:"connId"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	TimeoutMs int64           `json:"timeoutMs,omitempty"`
}

func (s *Server) handleNodeInvoke(c *Connection, f Frame) {
	var p nodeInvokeParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	if s.nodes == nil {
		c.sendErrorRes(f.ID, "not_found", "no node registry configured")
		return
	}
	timeout := nodes.DefaultInvokeTimeout
	if p.TimeoutMs > 0 {
		timeout = time.Duration(p.TimeoutMs) * time.Millisecond
	}
	result := s.nodes.Invoke(c.ctx, p.ConnID, "", p.Command, p.Params, timeout)
	if result.Err != nil {
		c.sendRes(f.ID, false, nil, &FrameError{Kind: string(result.Err.Kind), Message: result.Err.Message})
		return
	}
	c.sendRes(f.ID, true, map[string]any{"ok": result.OK, "result": result.Result}, nil)
}

func (s *Server) handleInvokeRes(c *Connection, f Frame) {
	if s.nodes == nil {
		return
	}
	var frameErr *FrameError
	if f.Error != nil {
		frameErr = f.Error
	}
	ok := frameErr == nil
	kind := gatewayerr.Kind("")
	msg := ""
	if frameErr != nil {
		kind = gatewayerr.Kind(frameErr.Kind)
		msg = frameErr.Message
	}
	s.nodes.OnResponse(f.ID, ok, f.Result, kind, msg)
}

type approvalGrantParams struct {
	AgentID         string `json:"agentId"`
	ResolvedCommand string `json:"resolvedCommand"`
}

// handleApprovalGrant is the recovery path out of an `ask` decision (§8
// S2): an operator grants "always allow" for the exact resolved command a
// node surfaced, and the Approval Store appends it to that agent's
// allowlist exactly once.
func (s *Server) handleApprovalGrant(c *Connection, f Frame) {
	var p approvalGrantParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	if p.ResolvedCommand == "" {
		c.sendErrorRes(f.ID, "validation", "resolvedCommand is required")
		return
	}
	if s.gate.Approval == nil {
		c.sendErrorRes(f.ID, "internal", "no approval store configured")
		return
	}
	if err := s.gate.Approval.Allow(c.ctx, p.AgentID, p.ResolvedCommand); err != nil {
		c.sendErrorRes(f.ID, string(gatewayerr.KindOf(err)), err.Error())
		return
	}
	c.sendRes(f.ID, true, map[string]any{"agentId": p.AgentID, "resolvedCommand": p.ResolvedCommand, "granted": true}, nil)
}

type sessionsListParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) handleSessionsList(c *Connection, f Frame) {
	var p sessionsListParams
	_ = json.Unmarshal(f.Params, &p)
	if p.Limit <= 0 {
		p.Limit = 100
	}
	keys, err := s.sessions.List(c.ctx, p.Limit)
	if err != nil {
		c.sendErrorRes(f.ID, string(gatewayerr.KindOf(err)), err.Error())
		return
	}
	c.sendRes(f.ID, true, map[string]any{"sessions": keys}, nil)
}

func (s *Server) handleSessionsResolve(c *Connection, f Frame) {
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	msgs, err := s.sessions.History(c.ctx, p.SessionKey, 1)
	if err != nil {
		c.sendErrorRes(f.ID, string(gatewayerr.KindOf(err)), err.Error())
		return
	}
	exists := len(msgs) > 0
	payload := map[string]any{"sessionKey": p.SessionKey, "exists": exists}
	if exists {
		payload["lastActivityAt"] = msgs[len(msgs)-1].At
	}
	c.sendRes(f.ID, true, payload, nil)
}

func (s *Server) handleSessionsPatch(c *Connection, f Frame) {
	var p struct {
		SessionKey string `json:"sessionKey"`
		Clear      bool   `json:"clear,omitempty"`
	}
	if err := json.Unmarshal(f.Params, &p); err != nil {
		c.sendErrorRes(f.ID, "validation", err.Error())
		return
	}
	if p.Clear {
		if err := s.sessions.Clear(c.ctx, p.SessionKey); err != nil {
			c.sendErrorRes(f.ID, string(gatewayerr.KindOf(err)), err.Error())
			return
		}
	}
	c.sendRes(f.ID, true, map[string]any{"sessionKey": p.SessionKey}, nil)
}
