package tools

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentgate/internal/approval"
	"github.com/haasonsaas/agentgate/internal/gatewayerr"
	"github.com/haasonsaas/agentgate/internal/safety"
)

func TestGate_ReadCategoryNeverGated(t *testing.T) {
	g := Gate{Safety: safety.Config{Enabled: true, ConfirmationRequired: map[safety.Category]bool{safety.CategoryFileWrite: true}}}
	if err := g.Check(context.Background(), "a1", CategoryRead, ""); err != nil {
		t.Fatalf("expected read category to pass ungated, got %v", err)
	}
}

func TestGate_WriteDeniedWhenSafetyDenies(t *testing.T) {
	g := Gate{Safety: safety.Config{Enabled: false}}
	// disabled gate always allows; flip to configured-confirmation case
	g.Safety = safety.DefaultConfig()
	g.Safety.ConfirmationRequired[safety.CategoryFileWrite] = true
	err := g.Check(context.Background(), "a1", CategoryWrite, "")
	if err == nil || gatewayerr.KindOf(err) != gatewayerr.KindPermissionDenied {
		t.Fatalf("expected permission_denied for confirmation-required write, got %v", err)
	}
}

func TestGate_ExecRequiresBothSafetyAndApproval(t *testing.T) {
	store := approval.NewMemoryStore()
	g := Gate{Safety: safety.DefaultConfig(), Approval: store}

	// default safety allows exec (no confirmation configured), but approval
	// store default policy is ask_on_miss with an empty allowlist -> ask.
	err := g.Check(context.Background(), "a1", CategoryExec, "/usr/bin/ls")
	if err == nil || gatewayerr.KindOf(err) != gatewayerr.KindPermissionDenied {
		t.Fatalf("expected permission_denied pending approval, got %v", err)
	}

	if err := store.Allow(context.Background(), "a1", "/usr/bin/ls"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if err := g.Check(context.Background(), "a1", CategoryExec, "/usr/bin/ls"); err != nil {
		t.Fatalf("expected allow once approved, got %v", err)
	}
}

func TestGate_ExecStillNeedsApprovalWhenSafetyDisabled(t *testing.T) {
	store := approval.NewMemoryStore()
	g := Gate{Safety: safety.Config{Enabled: false}, Approval: store}

	// Safety disabled means the Safety Gate itself always allows, but exec
	// still requires the Approval Store's independent sign-off.
	err := g.Check(context.Background(), "a1", CategoryExec, "/usr/bin/ls")
	if err == nil || gatewayerr.KindOf(err) != gatewayerr.KindPermissionDenied {
		t.Fatalf("expected approval store to still gate exec, got %v", err)
	}
}
