package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// connState is the per-connection handshake state machine (§4.7).
type connState int32

const (
	stateConnecting connState = iota
	stateAwaitingHello
	stateHandshaken
	stateTerminal
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 45 * time.Second
	sendBuffer = 64
)

// Connection is one handshaken (or handshaking) WebSocket peer, either an
// operator or a node. Grounded on the teacher's wsSession (per-connection
// send channel + read/write goroutine pair, atomic seq counter).
type Connection struct {
	srv  *Server
	conn *websocket.Conn

	ID   string
	Role string

	ctx    context.Context
	cancel context.CancelFunc
	send   chan []byte
	state  atomic.Int32
	seq    atomic.Uint64

	closeOnce sync.Once

	// node-only fields, set once role == RoleNode and the handshake succeeds.
	nodeCaps        map[string]bool
	nodeCommands    map[string]bool
	nodePermissions map[string]bool
}

func newConnection(srv *Server, conn *websocket.Conn, id string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{srv: srv, conn: conn, ID: id, ctx: ctx, cancel: cancel, send: make(chan []byte, sendBuffer)}
	// The socket is already open by the time this is constructed, so the
	// CONNECTING -> AWAITING_HELLO transition (§4.7) happens here.
	c.state.Store(int32(stateAwaitingHello))
	return c
}

func (c *Connection) getState() connState { return connState(c.state.Load()) }
func (c *Connection) setState(s connState) { c.state.Store(int32(s)) }

// SendInvoke implements nodes.Sender by writing an `invoke` frame to this
// node's socket.
func (c *Connection) SendInvoke(_ context.Context, invokeID, command string, params json.RawMessage) error {
	return c.writeFrame(Frame{Type: FrameInvoke, ID: invokeID, Command: command, Args: params})
}

func (c *Connection) nextSeq() uint64 { return c.seq.Add(1) }

func (c *Connection) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		// Backpressure: drop rather than block the hub; the client's next
		// `health`/`tick` round trip will reveal staleness.
		return nil
	}
}

func (c *Connection) sendRes(id string, ok bool, payload any, frameErr *FrameError) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	b := ok
	_ = c.writeFrame(Frame{Type: FrameRes, ID: id, OK: &b, Payload: raw, Error: frameErr})
}

func (c *Connection) sendErrorRes(id string, kind, message string) {
	b := false
	_ = c.writeFrame(Frame{Type: FrameRes, ID: id, OK: &b, Error: &FrameError{Kind: kind, Message: message}})
}

func (c *Connection) sendEvent(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	_ = c.writeFrame(Frame{Type: FrameEvent, Event: event, Seq: c.nextSeq(), Payload: raw})
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.setState(stateTerminal)
		c.cancel()
		close(c.send)
		_ = c.conn.Close()
	})
}

// closePolicyViolation terminates the connection with close code 1008
// (§4.7: a failed connect, or any non-connect first frame).
func (c *Connection) closePolicyViolation(reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(writeWait))
	c.close()
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readLoop(handle func(*Connection, Frame)) {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.sendErrorRes("", "validation", "malformed frame: "+err.Error())
			continue
		}
		handle(c, f)
		if c.getState() == stateTerminal {
			return
		}
	}
}
