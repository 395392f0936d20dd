package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/auth"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/reply"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
)

// CurrentProtocol is the protocol version this build negotiates (§4.7):
// minimum and currently-spoken version is 3 (§6).
const CurrentProtocol = 3

// DefaultTickInterval is how often `tick` events are broadcast.
const DefaultTickInterval = 15 * time.Second

// Config wires the Gateway Server's dependencies and auth mode.
type Config struct {
	Logger       *slog.Logger
	Sessions     sessions.Store
	Tools        *tools.Registry
	Gate         tools.Gate
	Nodes        *nodes.Registry
	Engine       *agent.RunEngine
	Models       []agent.ModelCandidate
	// Dispatcher is the Reply Dispatcher (C8) the `agent` method runs
	// through. When nil, the server falls back to invoking Engine.Run
	// directly with no system-prompt composition or inline commands.
	Dispatcher   *reply.Dispatcher
	AuthToken    string // shared-secret auth; empty disables it (loopback deployments)
	JWT          *auth.JWTService
	TickInterval time.Duration
}

// Server is the Gateway Server (C7): the single WebSocket endpoint
// multiplexing operator and node connections.
type Server struct {
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	sessions     sessions.Store
	tools        *tools.Registry
	gate         tools.Gate
	nodes        *nodes.Registry
	engine       *agent.RunEngine
	models       []agent.ModelCandidate
	dispatcher   *reply.Dispatcher
	authToken    string
	jwt          *auth.JWTService
	tickInterval time.Duration

	startedAt time.Time
	cron      *cron.Cron

	mu         sync.RWMutex
	conns      map[string]*Connection
	active     map[string]string            // sessionKey -> runID
	runCancels map[string]context.CancelFunc // runID -> cancel
	runOwners  map[string]string            // runID -> owning connection id
	stateVer   uint64
	shutdown   chan struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	s := &Server{
		logger:       cfg.Logger,
		sessions:     cfg.Sessions,
		tools:        cfg.Tools,
		gate:         cfg.Gate,
		nodes:        cfg.Nodes,
		engine:       cfg.Engine,
		models:       cfg.Models,
		dispatcher:   cfg.Dispatcher,
		authToken:    cfg.AuthToken,
		jwt:          cfg.JWT,
		tickInterval: cfg.TickInterval,
		startedAt:    time.Now(),
		conns:        make(map[string]*Connection),
		active:       make(map[string]string),
		runCancels:   make(map[string]context.CancelFunc),
		runOwners:    make(map[string]string),
		shutdown:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.tickInterval)
	if _, err := s.cron.AddFunc(spec, s.broadcastTick); err != nil {
		// A malformed interval can't happen from a validated duration; fall
		// back to the interval closest cron can express.
		s.logger.Error("failed to schedule tick", "error", err, "spec", spec)
	}
	s.cron.Start()
	return s
}

// Close stops the cron scheduler and every connection's goroutines.
func (s *Server) Close() {
	s.cron.Stop()
	close(s.shutdown)
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConnection(s, conn, uuid.New().String())
	defer func() {
		c.close()
		s.onDisconnect(c)
	}()
	go c.writeLoop()
	c.readLoop(s.handleFrame)
}

// handleFrame implements the handshake state machine (§4.7): the first
// frame from a new connection must be a connect request; any other frame,
// or a failed connect, terminates the connection.
func (s *Server) handleFrame(c *Connection, f Frame) {
	switch c.getState() {
	case stateAwaitingHello:
		if f.Type != FrameReq || f.Method != "connect" {
			c.sendErrorRes(f.ID, "validation", "first frame must be a connect request")
			c.closePolicyViolation("first frame must be a connect request")
			return
		}
		s.handleConnect(c, f)
	case stateHandshaken:
		switch f.Type {
		case FrameReq:
			s.dispatch(c, f)
		case FrameInvokeRe:
			s.handleInvokeRes(c, f)
		default:
			c.sendErrorRes(f.ID, "validation", fmt.Sprintf("unexpected frame type %q", f.Type))
		}
	default:
		// Terminal connections drop further frames silently.
	}
}

func (s *Server) handleConnect(c *Connection, f Frame) {
	var params ConnectParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		c.sendErrorRes(f.ID, "validation", "invalid connect params: "+err.Error())
		c.closePolicyViolation("invalid connect params")
		return
	}

	if params.MinProtocol == 0 {
		params.MinProtocol = CurrentProtocol
	}
	if params.MaxProtocol == 0 {
		params.MaxProtocol = CurrentProtocol
	}
	if CurrentProtocol < params.MinProtocol || CurrentProtocol > params.MaxProtocol {
		c.sendErrorRes(f.ID, "unsupported", "no mutually supported protocol version")
		c.closePolicyViolation("no mutually supported protocol version")
		return
	}

	if !s.authenticate(params.Auth) {
		b := false
		_ = c.writeFrame(Frame{Type: FrameRes, ID: f.ID, OK: &b, Error: &FrameError{Kind: "auth_failed", Message: "authentication failed"}})
		c.closePolicyViolation("authentication failed")
		return
	}

	role := params.Role
	if role == "" {
		role = RoleOperator
	}
	c.Role = role
	if role == RoleNode {
		c.nodeCaps = toBoolSet(params.Caps)
		c.nodeCommands = toBoolSet(params.Commands)
		c.nodePermissions = toBoolSet(params.Permissions)
		if s.nodes != nil {
			s.nodes.Register(&nodes.Record{
				ConnID:      c.ID,
				Caps:        c.nodeCaps,
				Commands:    c.nodeCommands,
				Permissions: c.nodePermissions,
				Sender:      c,
			})
		}
	}

	s.mu.Lock()
	s.conns[c.ID] = c
	s.stateVer++
	s.mu.Unlock()

	b := true
	payload, _ := json.Marshal(HelloOkPayload{
		Protocol: CurrentProtocol,
		Server:   ServerIdentity{ID: "agentgated"},
		Features: Features{Methods: supportedMethods(), Events: supportedEvents()},
		Snapshot: s.snapshot(),
	})
	_ = c.writeFrame(Frame{Type: FrameRes, ID: f.ID, OK: &b, Payload: payload})
	c.setState(stateHandshaken)
	s.broadcastPresence()
}

func (s *Server) authenticate(auth *ConnectAuth) bool {
	if s.authToken == "" && s.jwt == nil {
		return true
	}
	if auth == nil {
		return false
	}
	if s.authToken != "" {
		if subtle.ConstantTimeCompare([]byte(auth.Token), []byte(s.authToken)) == 1 {
			return true
		}
	}
	if s.jwt != nil {
		if _, err := s.jwt.Validate(auth.Token); err == nil {
			return true
		}
	}
	return false
}

func toBoolSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out[it] = true
		}
	}
	return out
}

// onDisconnect fires presence update, drops any node record, and cancels
// runs the connection owned (§4.7 HANDSHAKEN "on socket close").
func (s *Server) onDisconnect(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID)
	s.stateVer++
	s.mu.Unlock()

	if c.Role == RoleNode && s.nodes != nil {
		s.nodes.Unregister(c.ID)
	}
	s.cancelRunsOwnedBy(c.ID)
	s.broadcastPresence()
}

func (s *Server) cancelRunsOwnedBy(connID string) {
	s.mu.Lock()
	owned := make([]string, 0)
	for runID, owner := range s.runOwners {
		if owner == connID {
			owned = append(owned, runID)
		}
	}
	s.mu.Unlock()
	for _, runID := range owned {
		s.cancelRun(runID)
	}
}

func (s *Server) snapshot() SnapshotPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]PresenceEntry, 0, len(s.conns))
	for _, c := range s.conns {
		entries = append(entries, PresenceEntry{ConnID: c.ID, Role: c.Role})
	}
	return SnapshotPayload{
		Connections:   entries,
		Health:        "ok",
		StateVersion:  s.stateVer,
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		TickIntervalM: s.tickInterval.Milliseconds(),
	}
}

func (s *Server) broadcastPresence() {
	snap := s.snapshot()
	s.forEachRole(RoleOperator, func(c *Connection) {
		c.sendEvent("presence", snap)
	})
}

func (s *Server) forEachRole(role string, fn func(*Connection)) {
	s.mu.RLock()
	targets := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		if role == "" || c.Role == role {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range targets {
		fn(c)
	}
}

// broadcastTick is the cron job backing the periodic `tick` event (§4.7b);
// scheduled as an `@every` spec rather than a raw ticker to match how the
// rest of the daemon's periodic work is scheduled.
func (s *Server) broadcastTick() {
	now := time.Now().UTC()
	s.forEachRole("", func(c *Connection) {
		c.sendEvent("tick", map[string]any{"time": now})
	})
}

func supportedMethods() []string {
	return []string{
		"health", "status",
		"chat.history", "chat.export", "chat.replace",
		"agent", "agent.cancel",
		"node.list", "node.invoke",
		"sessions.list", "sessions.resolve", "sessions.patch",
		"approval.grant",
	}
}

func supportedEvents() []string {
	return []string{"presence", "tick", "chunk", "step", "agent", "agent.idle"}
}

// recordRunCancel associates a run with its cancel func so agent.cancel and
// disconnect cleanup can abort it.
func (s *Server) recordRunCancel(runID, ownerConnID string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.runCancels[runID] = cancel
	s.runOwners[runID] = ownerConnID
	s.mu.Unlock()
}

func (s *Server) clearRunCancel(runID string) {
	s.mu.Lock()
	delete(s.runCancels, runID)
	delete(s.runOwners, runID)
	s.mu.Unlock()
}

func (s *Server) cancelRun(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.runCancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Server) tryAcquireSession(sessionKey, runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[sessionKey]; busy {
		return false
	}
	s.active[sessionKey] = runID
	return true
}

func (s *Server) releaseSession(sessionKey string) {
	s.mu.Lock()
	delete(s.active, sessionKey)
	s.mu.Unlock()
}
