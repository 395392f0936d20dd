package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/approval"
	"github.com/haasonsaas/agentgate/internal/nodes"
	"github.com/haasonsaas/agentgate/internal/safety"
	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
)

// scriptedClient replays fixed chunk batches, one per Complete call, so
// each run's reply is deterministic.
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

func newTestServer(t *testing.T) (wsURL string, srv *Server, cleanup func()) {
	t.Helper()
	store := sessions.NewMemoryStore()
	toolsReg := tools.NewRegistry()
	gate := tools.Gate{Safety: safety.DefaultConfig(), Approval: approval.NewMemoryStore()}
	nodeReg := nodes.NewRegistry()

	srv = NewServer(Config{
		Sessions: store,
		Tools:    toolsReg,
		Gate:     gate,
		Nodes:    nodeReg,
		Engine: &agent.RunEngine{
			Tools:    toolsReg,
			Gate:     gate,
			Sessions: store,
			Nodes:    nodeReg,
		},
		Models:       []agent.ModelCandidate{{Name: "fake-model", Client: &scriptedClient{batches: [][]agent.CompletionChunk{{{TextDelta: "hi"}}}}}},
		TickInterval: time.Hour,
	})
	ts := httptest.NewServer(srv)
	wsURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	return wsURL, srv, func() {
		ts.Close()
		srv.Close()
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func connectHandshake(t *testing.T, conn *websocket.Conn, role string) Frame {
	t.Helper()
	params, _ := json.Marshal(ConnectParams{Role: role, MinProtocol: CurrentProtocol, MaxProtocol: CurrentProtocol})
	sendFrame(t, conn, Frame{Type: FrameReq, ID: "1", Method: "connect", Params: params})
	return readFrame(t, conn)
}

func TestGateway_HandshakeSucceedsAndReturnsHelloOk(t *testing.T) {
	url, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, url)
	defer conn.Close()

	res := connectHandshake(t, conn, RoleOperator)
	if res.Type != FrameRes || res.OK == nil || !*res.OK {
		t.Fatalf("expected successful connect res, got %+v", res)
	}
	var hello HelloOkPayload
	if err := json.Unmarshal(res.Payload, &hello); err != nil {
		t.Fatalf("decode hello-ok: %v", err)
	}
	if hello.Protocol != CurrentProtocol {
		t.Fatalf("unexpected protocol: %d", hello.Protocol)
	}
}

func TestGateway_NonConnectFirstFrameIsRejected(t *testing.T) {
	url, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, url)
	defer conn.Close()

	sendFrame(t, conn, Frame{Type: FrameReq, ID: "1", Method: "health"})
	res := readFrame(t, conn)
	if res.OK == nil || *res.OK {
		t.Fatalf("expected rejection before handshake, got %+v", res)
	}
}

func TestGateway_HealthAfterHandshake(t *testing.T) {
	url, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, url)
	defer conn.Close()
	connectHandshake(t, conn, RoleOperator)

	sendFrame(t, conn, Frame{Type: FrameReq, ID: "2", Method: "health"})
	res := readFrame(t, conn)
	if res.OK == nil || !*res.OK {
		t.Fatalf("expected ok health response, got %+v", res)
	}
}

func TestGateway_AgentRunStreamsChunkAndTerminalEvent(t *testing.T) {
	url, _, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, url)
	defer conn.Close()
	connectHandshake(t, conn, RoleOperator)

	params, _ := json.Marshal(map[string]any{"sessionKey": "s1", "userMessage": "hello"})
	sendFrame(t, conn, Frame{Type: FrameReq, ID: "2", Method: "agent", Params: params})

	accepted := readFrame(t, conn)
	if accepted.OK == nil || !*accepted.OK {
		t.Fatalf("expected accepted res, got %+v", accepted)
	}

	var sawChunk, sawTerminal bool
	for i := 0; i < 10 && !sawTerminal; i++ {
		ev := readFrame(t, conn)
		if ev.Type != FrameEvent {
			continue
		}
		switch ev.Event {
		case "chunk":
			sawChunk = true
		case "agent":
			sawTerminal = true
		}
	}
	if !sawChunk {
		t.Fatal("expected at least one chunk event")
	}
	if !sawTerminal {
		t.Fatal("expected a terminal agent event")
	}
}

func TestGateway_BusySessionRejectsSecondRun(t *testing.T) {
	url, srv, cleanup := newTestServer(t)
	defer cleanup()

	conn := dial(t, url)
	defer conn.Close()
	connectHandshake(t, conn, RoleOperator)

	if !srv.tryAcquireSession("busy-session", "run-held") {
		t.Fatal("expected to acquire session")
	}
	defer srv.releaseSession("busy-session")

	params, _ := json.Marshal(map[string]any{"sessionKey": "busy-session", "userMessage": "hello"})
	sendFrame(t, conn, Frame{Type: FrameReq, ID: "2", Method: "agent", Params: params})

	res := readFrame(t, conn)
	if res.OK == nil || *res.OK {
		t.Fatalf("expected busy rejection, got %+v", res)
	}
}

func TestGateway_PresenceBroadcastOnSecondConnect(t *testing.T) {
	url, _, cleanup := newTestServer(t)
	defer cleanup()

	first := dial(t, url)
	defer first.Close()
	connectHandshake(t, first, RoleOperator)

	second := dial(t, url)
	defer second.Close()
	connectHandshake(t, second, RoleOperator)

	ev := readFrame(t, first)
	if ev.Type != FrameEvent || ev.Event != "presence" {
		t.Fatalf("expected a presence event on the first connection, got %+v", ev)
	}
}
