// Package builtin registers the concrete shell/filesystem tools against a
// tools.Registry (§4.4: "shell, filesystem, git, HTTP, memory search").
package builtin

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentgate/internal/sessions"
	"github.com/haasonsaas/agentgate/internal/tools"
	"github.com/haasonsaas/agentgate/internal/tools/exec"
	"github.com/haasonsaas/agentgate/internal/tools/files"
	"github.com/haasonsaas/agentgate/internal/tools/git"
	"github.com/haasonsaas/agentgate/internal/tools/memorysearch"
	"github.com/haasonsaas/agentgate/internal/tools/network"
)

// namedTool is the shape every concrete tool in exec/files implements.
type namedTool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (tools.Result, error)
}

func asTool(t namedTool, category tools.Category) tools.Tool {
	return tools.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    category,
		SchemaRaw:   t.Schema(),
		Handler: func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
			return t.Execute(ctx, args)
		},
	}
}

// Config controls which built-ins are registered and their workspace root.
type Config struct {
	Workspace    string
	MaxReadBytes int
	Sessions     sessions.Store
}

// Register publishes the shell-exec, process-management, file
// read/write/edit/patch, git, HTTP, and memory-search tools into reg. It is
// the glue between the standalone exec/files/git/network/memorysearch
// packages and the Tool Registry's Register/Dispatch machinery.
func Register(reg *tools.Registry, cfg Config) error {
	filesCfg := files.Config{Workspace: cfg.Workspace, MaxReadBytes: cfg.MaxReadBytes}
	manager := exec.NewManager(cfg.Workspace)

	registrations := []struct {
		tool     namedTool
		category tools.Category
	}{
		{exec.NewExecTool("exec", manager), tools.CategoryExec},
		{exec.NewProcessTool(manager), tools.CategoryExec},
		{files.NewReadTool(filesCfg), tools.CategoryRead},
		{files.NewWriteTool(filesCfg), tools.CategoryWrite},
		{files.NewEditTool(filesCfg), tools.CategoryWrite},
		{files.NewApplyPatchTool(filesCfg), tools.CategoryWrite},
		{git.New(cfg.Workspace), tools.CategoryGit},
		{network.New(), tools.CategoryNetwork},
	}
	if cfg.Sessions != nil {
		registrations = append(registrations, struct {
			tool     namedTool
			category tools.Category
		}{memorysearch.New(cfg.Sessions), tools.CategoryMemory})
	}

	for _, r := range registrations {
		if err := reg.Register(asTool(r.tool, r.category), nil); err != nil {
			return err
		}
	}
	return nil
}
