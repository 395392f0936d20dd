package nodes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
)

type fakeSender struct {
	sent chan struct {
		invokeID string
		command  string
		params   json.RawMessage
	}
	err error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan struct {
		invokeID string
		command  string
		params   json.RawMessage
	}, 8)}
}

func (f *fakeSender) SendInvoke(ctx context.Context, invokeID, command string, params json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.sent <- struct {
		invokeID string
		command  string
		params   json.RawMessage
	}{invokeID, command, params}
	return nil
}

func TestRegistry_InvokeAndOnResponse(t *testing.T) {
	r := NewRegistry()
	sender := newFakeSender()
	r.Register(&Record{ConnID: "node-1", Sender: sender})

	resultCh := make(chan InvokeResult, 1)
	go func() {
		resultCh <- r.Invoke(context.Background(), "node-1", "run-1", "camera.snap", json.RawMessage(`{}`), time.Second)
	}()

	sent := <-sender.sent
	r.OnResponse(sent.invokeID, true, json.RawMessage(`{"ok":true}`), "", "")

	res := <-resultCh
	if !res.OK || res.Err != nil {
		t.Fatalf("expected successful invoke result, got %+v", res)
	}
}

func TestRegistry_InvokeTimesOut(t *testing.T) {
	r := NewRegistry()
	sender := newFakeSender()
	r.Register(&Record{ConnID: "node-1", Sender: sender})

	res := r.Invoke(context.Background(), "node-1", "", "slow.cmd", json.RawMessage(`{}`), 20*time.Millisecond)
	if res.Err == nil || res.Err.Kind != gatewayerr.KindTimeout {
		t.Fatalf("expected timeout error, got %+v", res)
	}

	// The pending invoke must have been cleaned up — a late response should
	// be silently dropped rather than panicking or blocking.
	r.OnResponse("does-not-matter", true, nil, "", "")
}

func TestRegistry_UnregisterFailsPendingInvokesWithNodeDisconnected(t *testing.T) {
	r := NewRegistry()
	sender := newFakeSender()
	r.Register(&Record{ConnID: "node-1", Sender: sender})

	resultCh := make(chan InvokeResult, 1)
	go func() {
		resultCh <- r.Invoke(context.Background(), "node-1", "", "camera.snap", json.RawMessage(`{}`), 5*time.Second)
	}()

	<-sender.sent
	r.Unregister("node-1")

	res := <-resultCh
	if res.Err == nil || res.Err.Kind != gatewayerr.KindNodeDisconnected {
		t.Fatalf("expected node_disconnected error, got %+v", res)
	}

	if _, ok := r.Get("node-1"); ok {
		t.Fatalf("expected node-1 to be unregistered")
	}
}

func TestRegistry_UnmatchedResponseSilentlyDropped(t *testing.T) {
	r := NewRegistry()
	// no panic, no error return value to check — OnResponse is void.
	r.OnResponse("never-requested", true, json.RawMessage(`{}`), "", "")
}

func TestRegistry_CancelRunCancelsOwnedInvokes(t *testing.T) {
	r := NewRegistry()
	sender := newFakeSender()
	r.Register(&Record{ConnID: "node-1", Sender: sender})

	resultCh := make(chan InvokeResult, 1)
	go func() {
		resultCh <- r.Invoke(context.Background(), "node-1", "run-42", "camera.snap", json.RawMessage(`{}`), 5*time.Second)
	}()

	<-sender.sent
	r.CancelRun("run-42")

	select {
	case res := <-resultCh:
		if res.Err == nil {
			t.Fatalf("expected cancellation to surface an error, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected cancelled invoke to return promptly")
	}
}

func TestRegistry_ListSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register(&Record{ConnID: "node-1", Caps: map[string]bool{"camera": true}})

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("expected one node, got %d", len(list))
	}
	list[0].Caps["camera"] = false

	rec, _ := r.Get("node-1")
	if !rec.Caps["camera"] {
		t.Fatalf("mutating a List() snapshot must not affect the registry's state")
	}
}
