// Package tools implements the Tool Registry: a static catalog of typed
// tool descriptors dispatched to handlers under bounded resources, gated by
// the Safety Gate and Approval Store. Grounded on the teacher's
// internal/agent.ToolRegistry (registration/lookup/execute shape) and
// internal/tools/policy (category gating, name normalization), generalized
// to the gateway's category set and per-call deadlines.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
)

// Category is a tool's gating class (§3 Tool).
type Category string

const (
	CategoryRead     Category = "read"
	CategoryWrite    Category = "write"
	CategoryExec     Category = "exec"
	CategoryNetwork  Category = "network"
	CategoryMemory   Category = "memory"
	CategoryGit      Category = "git"
	CategoryNotify   Category = "notify"
	CategoryNode     Category = "node"
	CategorySession  Category = "session"
	CategorySkill    Category = "skill"
)

const (
	// DefaultDeadline is the per-invocation default per §4.4.
	DefaultDeadline = 120 * time.Second
	// MaxExecDeadline bounds exec-category invocations.
	MaxExecDeadline = 600 * time.Second
)

// Handler executes one tool call given validated, schema-conformant
// arguments. It must not retain runCtx or args after returning.
type Handler func(runCtx context.Context, args json.RawMessage) (Result, error)

// Result is a successful or failed tool invocation outcome.
type Result struct {
	Content string
	IsError bool
	Kind    gatewayerr.Kind
}

// Tool is one static registry entry (§3 Tool).
type Tool struct {
	Name        string
	Description string
	Category    Category
	Schema      *jsonschemav5.Schema
	SchemaRaw   json.RawMessage
	Handler     Handler
	// Deadline overrides DefaultDeadline/MaxExecDeadline for this tool; zero
	// means use the category default.
	Deadline time.Duration
}

func (t Tool) deadline() time.Duration {
	if t.Deadline > 0 {
		return t.Deadline
	}
	if t.Category == CategoryExec {
		return MaxExecDeadline
	}
	return DefaultDeadline
}

// Registry is the thread-safe tool catalog.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register publishes a tool, generating its JSON Schema from a Go value via
// invopop/jsonschema if SchemaRaw/Schema are both unset, and compiling it
// with santhosh-tekuri/jsonschema for argument validation at dispatch time.
func (r *Registry) Register(tool Tool, exampleArgs any) error {
	if tool.SchemaRaw == nil && tool.Schema == nil && exampleArgs != nil {
		reflector := &jsonschema.Reflector{DoNotReference: true}
		schema := reflector.Reflect(exampleArgs)
		raw, err := json.Marshal(schema)
		if err != nil {
			return fmt.Errorf("generate schema for tool %q: %w", tool.Name, err)
		}
		tool.SchemaRaw = raw
	}
	if tool.Schema == nil && tool.SchemaRaw != nil {
		compiled, err := compileSchema(tool.Name, tool.SchemaRaw)
		if err != nil {
			return err
		}
		tool.Schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschemav5.Schema, error) {
	schema, err := jsonschemav5.CompileString("tool://"+name, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for tool %q: %w", name, err)
	}
	return schema, nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool descriptor by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools, for publishing the schema to the model.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Dispatch runs one tool call: unknown name -> unsupported; schema
// validation failure -> validation; otherwise the handler runs under a
// deadline derived from the tool's category.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{IsError: true, Kind: gatewayerr.KindUnsupported, Content: fmt.Sprintf("unknown tool %q", name)}
	}

	if tool.Schema != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return Result{IsError: true, Kind: gatewayerr.KindValidation, Content: fmt.Sprintf("invalid arguments for tool %q: %v", name, err)}
		}
		if err := tool.Schema.Validate(decoded); err != nil {
			return Result{IsError: true, Kind: gatewayerr.KindValidation, Content: fmt.Sprintf("arguments for tool %q failed validation: %v", name, err)}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, tool.deadline())
	defer cancel()

	res, err := tool.Handler(runCtx, args)
	if err != nil {
		if runCtx.Err() != nil {
			return Result{IsError: true, Kind: gatewayerr.KindTimeout, Content: fmt.Sprintf("tool %q timed out: %v", name, err)}
		}
		return Result{IsError: true, Kind: gatewayerr.KindInternal, Content: err.Error()}
	}
	return res
}
