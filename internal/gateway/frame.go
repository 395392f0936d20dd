// Package gateway implements the Gateway Server (C7): the single
// WebSocket endpoint multiplexing operator and node connections,
// dispatching request methods, and broadcasting presence/tick events.
// Grounded on the teacher's internal/gateway.wsControlPlane (frame
// envelope, connect handshake, tick loop, schema-validated params table),
// narrowed from its gRPC-backed chat relay to this gateway's
// session/agent/node method set.
package gateway

import "encoding/json"

// FrameType is the envelope discriminator (§4.7).
type FrameType string

const (
	FrameReq      FrameType = "req"
	FrameRes      FrameType = "res"
	FrameEvent    FrameType = "event"
	FrameInvoke   FrameType = "invoke"
	FrameInvokeRe FrameType = "invoke_res"
)

// Frame is the single wire envelope shape for every direction of traffic.
// Only the fields relevant to Type are populated by a given sender; the
// rest travel as their zero value and are omitted from JSON.
type Frame struct {
	Type FrameType `json:"type"`

	// req / res / invoke / invoke_res correlation id.
	ID string `json:"id,omitempty"`

	// req
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`

	// event (payload shares the res Payload field/tag: §6's wire example is
	// `event{event:"agent.idle",payload:{...}}`)
	Event string `json:"event,omitempty"`
	Seq   uint64 `json:"seq,omitempty"`

	// invoke (server -> node)
	Command string          `json:"command,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`

	// invoke_res (node -> server)
	Result json.RawMessage `json:"result,omitempty"`
}

// FrameError is the {code,message} shape carried on a failed res or
// invoke_res frame.
type FrameError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ConnectParams is the payload of the one frame permitted before the
// handshake completes (§4.7 handshake state machine).
type ConnectParams struct {
	Role        string          `json:"role"`
	Scopes      []string        `json:"scopes,omitempty"`
	MinProtocol int             `json:"minProtocol"`
	MaxProtocol int             `json:"maxProtocol"`
	Auth        *ConnectAuth    `json:"auth,omitempty"`
	Caps        []string        `json:"caps,omitempty"`
	Commands    []string        `json:"commands,omitempty"`
	Permissions []string        `json:"permissions,omitempty"`
	Client      json.RawMessage `json:"client,omitempty"`
}

// ConnectAuth carries the bearer credential presented at connect time:
// either the shared token or a signed JWT, depending on deployment mode.
type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

const (
	RoleOperator = "operator"
	RoleNode     = "node"
)

// HelloOkPayload is returned on a successful connect (§4.7).
type HelloOkPayload struct {
	Protocol int             `json:"protocol"`
	Server   ServerIdentity  `json:"server"`
	Features Features        `json:"features"`
	Snapshot SnapshotPayload `json:"snapshot"`
}

type ServerIdentity struct {
	ID string `json:"id"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// SnapshotPayload is the state-of-the-world blob returned in hello-ok and
// refreshed on every presence event (§4.7).
type SnapshotPayload struct {
	Connections   []PresenceEntry `json:"connections"`
	Health        string          `json:"health"`
	StateVersion  uint64          `json:"stateVersion"`
	UptimeMs      int64           `json:"uptimeMs"`
	TickIntervalM int64           `json:"tickIntervalMs"`
}

// PresenceEntry describes one currently-handshaken connection.
type PresenceEntry struct {
	ConnID string `json:"connId"`
	Role   string `json:"role"`
}
