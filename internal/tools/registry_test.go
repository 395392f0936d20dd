package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"required"`
}

func TestRegistry_UnknownToolIsUnsupported(t *testing.T) {
	r := NewRegistry()
	res := r.Dispatch(context.Background(), "nope", json.RawMessage(`{}`))
	if !res.IsError || res.Kind != gatewayerr.KindUnsupported {
		t.Fatalf("expected unsupported error, got %+v", res)
	}
}

func TestRegistry_ValidationFailsBeforeHandlerRuns(t *testing.T) {
	r := NewRegistry()
	called := false
	err := r.Register(Tool{
		Name:     "echo",
		Category: CategoryRead,
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			called = true
			return Result{Content: "ok"}, nil
		},
	}, echoArgs{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Dispatch(context.Background(), "echo", json.RawMessage(`{}`))
	if !res.IsError || res.Kind != gatewayerr.KindValidation {
		t.Fatalf("expected validation error for missing required field, got %+v", res)
	}
	if called {
		t.Fatalf("handler must not run when arguments fail validation")
	}
}

func TestRegistry_DispatchesValidCall(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{
		Name:     "echo",
		Category: CategoryRead,
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var a echoArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return Result{}, err
			}
			return Result{Content: a.Text}, nil
		},
	}, echoArgs{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Dispatch(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if res.IsError || res.Content != "hi" {
		t.Fatalf("expected successful echo, got %+v", res)
	}
}

func TestRegistry_ExecDeadlineDefaultsToMax(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{Name: "run", Category: CategoryExec, Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
		return Result{Content: "done"}, nil
	}}, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	tool, _ := r.Get("run")
	if tool.deadline() != MaxExecDeadline {
		t.Fatalf("expected exec tool to default to max deadline, got %s", tool.deadline())
	}
}

func TestRegistry_HandlerTimeoutReportsTimeoutKind(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Tool{
		Name:     "slow",
		Category: CategoryRead,
		Deadline: 10 * time.Millisecond,
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	res := r.Dispatch(context.Background(), "slow", json.RawMessage(`{}`))
	if !res.IsError || res.Kind != gatewayerr.KindTimeout {
		t.Fatalf("expected timeout error, got %+v", res)
	}
}
