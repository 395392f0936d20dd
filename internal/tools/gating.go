package tools

import (
	"context"
	"fmt"

	"github.com/haasonsaas/agentgate/internal/approval"
	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/safety"
	"github.com/haasonsaas/agentgate/internal/tools/security"
)

// Gate wires the Safety Gate and Approval Store into a tool dispatch
// decision, per §4.4's category table: read/memory/git-read/network-read
// need no prompt; write/git-write consult the Safety Gate; exec consults
// both the Safety Gate and the Approval Store, and both must allow;
// notify consults the Safety Gate alone.
type Gate struct {
	Safety   safety.Config
	Approval approval.Store
}

// categoryToSafety maps a tool Category to the Safety Gate category it is
// gated by, or "" if the category requires no Safety Gate check.
func categoryToSafety(c Category) (safety.Category, bool) {
	switch c {
	case CategoryWrite:
		return safety.CategoryFileWrite, true
	case CategoryGit:
		return safety.CategoryGitOps, true
	case CategoryExec:
		return safety.CategorySystemCmd, true
	case CategoryNotify:
		return safety.CategoryNotification, true
	default:
		return "", false
	}
}

// Check evaluates whether a tool call in category cat, run as agentID with
// resolvedCommand (only meaningful for exec), is allowed. A non-nil error
// carries a gatewayerr.Kind suitable for the caller's ToolResult.
func (g Gate) Check(ctx context.Context, agentID string, cat Category, resolvedCommand string) error {
	safetyCategory, gated := categoryToSafety(cat)
	if !gated {
		return nil
	}

	result := safety.Check(g.Safety, safetyCategory)
	switch result.Decision {
	case safety.Deny:
		return gatewayerr.New(gatewayerr.KindPermissionDenied, result.Reason)
	case safety.Allow:
		if cat != CategoryExec {
			return nil
		}
	case safety.Ask:
		if cat != CategoryExec {
			return gatewayerr.New(gatewayerr.KindPermissionDenied, result.Reason)
		}
	}

	if cat != CategoryExec {
		return nil
	}

	// Defense-in-depth ahead of the Approval Store: a command carrying shell
	// metacharacters the agent didn't explicitly ask to chain/pipe/redirect
	// is denied outright rather than handed to the approval prompt, which
	// only ever saw the literal command string, not its shell semantics.
	if resolvedCommand != "" && !security.IsSafeCommand(resolvedCommand) {
		return gatewayerr.New(gatewayerr.KindPermissionDenied, security.ExtractUnsafeReason(resolvedCommand))
	}

	if g.Approval == nil {
		return gatewayerr.New(gatewayerr.KindPermissionDenied, "no approval store configured for exec")
	}

	decision, reason, err := g.Approval.Decide(ctx, agentID, resolvedCommand)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, err, "approval decision failed")
	}
	switch decision {
	case approval.DecisionAllow:
		return nil
	case approval.DecisionAsk:
		return gatewayerr.New(gatewayerr.KindPermissionDenied, fmt.Sprintf("approval required: %s", reason))
	default:
		return gatewayerr.New(gatewayerr.KindPermissionDenied, reason)
	}
}
