// Package git implements the git tool category (§4.4: "shell, filesystem,
// git, HTTP, memory search, optional node invocations"). It shells out to
// the git binary the same way internal/tools/exec shells out to arbitrary
// commands, restricted to a fixed subcommand allowlist so the category can
// be gated independently of the general-purpose exec tool.
package git

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/tools"
)

// allowedSubcommands bounds the git tool to read/inspect and ordinary
// write operations; destructive history rewrites are out of scope.
var allowedSubcommands = map[string]bool{
	"status": true, "diff": true, "log": true, "show": true,
	"add": true, "commit": true, "branch": true, "checkout": true,
	"stash": true, "remote": true, "fetch": true, "pull": true, "push": true,
}

// Tool runs git subcommands in a workspace.
type Tool struct {
	Workspace string
}

// New creates a git tool scoped to workspace.
func New(workspace string) *Tool {
	return &Tool{Workspace: workspace}
}

func (t *Tool) Name() string { return "git" }

func (t *Tool) Description() string {
	return "Run a git subcommand (status, diff, log, show, add, commit, branch, checkout, stash, remote, fetch, pull, push) in the workspace."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subcommand": map[string]any{
				"type":        "string",
				"description": "git subcommand, e.g. \"status\" or \"commit\".",
			},
			"args": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Additional arguments passed to the subcommand.",
			},
		},
		"required": []string{"subcommand"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (tools.Result, error) {
	var input struct {
		Subcommand string   `json:"subcommand"`
		Args       []string `json:"args"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	sub := strings.ToLower(strings.TrimSpace(input.Subcommand))
	if !allowedSubcommands[sub] {
		return toolError(fmt.Sprintf("git subcommand %q is not allowed", sub)), nil
	}

	args := append([]string{sub}, input.Args...)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = t.Workspace
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		payload, _ := json.MarshalIndent(map[string]any{
			"error":  err.Error(),
			"stdout": stdout.String(),
			"stderr": stderr.String(),
		}, "", "  ")
		return tools.Result{Content: string(payload), IsError: true, Kind: gatewayerr.KindIO}, nil
	}

	payload, _ := json.MarshalIndent(map[string]any{
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	}, "", "  ")
	return tools.Result{Content: string(payload)}, nil
}

func toolError(message string) tools.Result {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return tools.Result{Content: string(payload), IsError: true, Kind: gatewayerr.KindValidation}
}
