// Package nodes implements the Node Registry (C5): tracks role=node
// connections, correlates outbound `invoke` frames with their `invoke_res`
// replies, and enforces that no PendingInvoke ever leaks past a timeout or
// a disconnect. Grounded on the teacher's internal/edge.Manager
// (pendingTools map + timeout/cancel select loop) and internal/nodes's
// registry/types shape, adapted from gRPC streams to WS invoke frames.
package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
)

// DefaultInvokeTimeout is the default deadline for a PendingInvoke (§3).
const DefaultInvokeTimeout = 60 * time.Second

// Sender delivers an `invoke` frame to one node's socket. Implemented by the
// Gateway Server's per-connection writer.
type Sender interface {
	SendInvoke(ctx context.Context, invokeID, command string, params json.RawMessage) error
}

// Record is a registered node connection (§3 NodeRecord).
type Record struct {
	ConnID      string
	Caps        map[string]bool
	Commands    map[string]bool
	Permissions map[string]bool
	Sender      Sender
}

// InvokeResult is the outcome of one invoke() call.
type InvokeResult struct {
	OK     bool
	Result json.RawMessage
	Err    *gatewayerr.Error
}

// pendingInvoke is one in-flight invoke() awaiting invoke_res (§3
// PendingInvoke).
type pendingInvoke struct {
	invokeID string
	connID   string
	command  string
	params   json.RawMessage
	done     chan InvokeResult
	cancel   context.CancelFunc
}

// Registry is the thread-safe Node Registry.
type Registry struct {
	mu      sync.RWMutex
	nodes   map[string]*Record
	pending map[string]*pendingInvoke
	byRun   map[string]map[string]struct{} // runID -> set of invokeIDs, for cancellation
}

func NewRegistry() *Registry {
	return &Registry{
		nodes:   make(map[string]*Record),
		pending: make(map[string]*pendingInvoke),
		byRun:   make(map[string]map[string]struct{}),
	}
}

// Register adds a node record on successful handshake.
func (r *Registry) Register(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[rec.ConnID] = rec
}

// Unregister removes a node record on socket close, failing all of its
// PendingInvokes with node_disconnected so none can leak.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	delete(r.nodes, connID)
	var toFail []*pendingInvoke
	for id, p := range r.pending {
		if p.connID == connID {
			toFail = append(toFail, p)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, p := range toFail {
		p.cancel()
		sendResult(p, InvokeResult{Err: gatewayerr.Of(gatewayerr.KindNodeDisconnected)})
	}
}

// List returns a snapshot of active node records.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, cloneRecord(rec))
	}
	return out
}

// Get returns one node record, if connected.
func (r *Registry) Get(connID string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[connID]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(rec), true
}

func cloneRecord(rec *Record) Record {
	clone := *rec
	clone.Caps = cloneBoolSet(rec.Caps)
	clone.Commands = cloneBoolSet(rec.Commands)
	clone.Permissions = cloneBoolSet(rec.Permissions)
	return clone
}

func cloneBoolSet(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Invoke sends command to connID, waits for its invoke_res, cancellation, or
// timeout (default DefaultInvokeTimeout), and returns the correlated result.
// runID, if non-empty, lets CancelRun abort this invoke.
func (r *Registry) Invoke(ctx context.Context, connID, runID, command string, params json.RawMessage, timeout time.Duration) InvokeResult {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}

	r.mu.RLock()
	rec, ok := r.nodes[connID]
	r.mu.RUnlock()
	if !ok {
		return InvokeResult{Err: gatewayerr.New(gatewayerr.KindNodeDisconnected, fmt.Sprintf("node %q not connected", connID))}
	}

	invokeID := uuid.New().String()
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := &pendingInvoke{
		invokeID: invokeID,
		connID:   connID,
		command:  command,
		params:   params,
		done:     make(chan InvokeResult, 1),
		cancel:   cancel,
	}

	r.mu.Lock()
	r.pending[invokeID] = p
	if runID != "" {
		set, ok := r.byRun[runID]
		if !ok {
			set = make(map[string]struct{})
			r.byRun[runID] = set
		}
		set[invokeID] = struct{}{}
	}
	r.mu.Unlock()

	cleanup := func() {
		r.mu.Lock()
		delete(r.pending, invokeID)
		if runID != "" {
			if set, ok := r.byRun[runID]; ok {
				delete(set, invokeID)
				if len(set) == 0 {
					delete(r.byRun, runID)
				}
			}
		}
		r.mu.Unlock()
	}

	if err := rec.Sender.SendInvoke(invokeCtx, invokeID, command, params); err != nil {
		cleanup()
		return InvokeResult{Err: gatewayerr.Wrap(gatewayerr.KindIO, err, "send invoke frame")}
	}

	select {
	case res := <-p.done:
		cleanup()
		return res
	case <-invokeCtx.Done():
		cleanup()
		if ctx.Err() != nil {
			return InvokeResult{Err: gatewayerr.New(gatewayerr.KindTimeout, "invoke cancelled")}
		}
		return InvokeResult{Err: gatewayerr.New(gatewayerr.KindTimeout, fmt.Sprintf("invoke %q timed out after %s", command, timeout))}
	}
}

// OnResponse resolves the matching PendingInvoke for an invoke_res frame.
// Unmatched responses (already timed out, already resolved, or from a
// connection that never owned the invokeID) are silently dropped.
func (r *Registry) OnResponse(invokeID string, ok bool, result json.RawMessage, errKind gatewayerr.Kind, errMsg string) {
	r.mu.Lock()
	p, found := r.pending[invokeID]
	if found {
		delete(r.pending, invokeID)
	}
	r.mu.Unlock()
	if !found {
		return
	}

	res := InvokeResult{OK: ok, Result: result}
	if !ok {
		res.Err = gatewayerr.New(errKind, errMsg)
	}
	sendResult(p, res)
}

// CancelRun cancels every PendingInvoke associated with runID, used when the
// owning AgentRun is cancelled.
func (r *Registry) CancelRun(runID string) {
	r.mu.Lock()
	set := r.byRun[runID]
	delete(r.byRun, runID)
	var toCancel []*pendingInvoke
	for id := range set {
		if p, ok := r.pending[id]; ok {
			toCancel = append(toCancel, p)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, p := range toCancel {
		p.cancel()
	}
}

func sendResult(p *pendingInvoke, res InvokeResult) {
	select {
	case p.done <- res:
	default:
	}
}
