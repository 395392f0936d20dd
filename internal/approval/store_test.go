package approval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDecide_DenyModeAlwaysDenies(t *testing.T) {
	d, _ := Decide(Defaults{Security: ModeDeny, Ask: AskOff}, nil, "/usr/bin/ls")
	if d != DecisionDeny {
		t.Fatalf("expected deny, got %s", d)
	}
}

func TestDecide_FullModeAllowsUnlessAskAlways(t *testing.T) {
	d, _ := Decide(Defaults{Security: ModeFull, Ask: AskOff}, nil, "/usr/bin/ls")
	if d != DecisionAllow {
		t.Fatalf("expected allow, got %s", d)
	}
	d, _ = Decide(Defaults{Security: ModeFull, Ask: AskAlways}, nil, "/usr/bin/ls")
	if d != DecisionAsk {
		t.Fatalf("expected ask when AskAlways overrides full, got %s", d)
	}
}

func TestDecide_AllowlistModeGatesOnMatch(t *testing.T) {
	agent := &AgentPolicy{Allowlist: []string{"/usr/bin/ls"}}
	if d, _ := Decide(Defaults{Security: ModeAllowlist}, agent, "/usr/bin/ls"); d != DecisionAllow {
		t.Fatalf("expected allow for matched command, got %s", d)
	}
	if d, _ := Decide(Defaults{Security: ModeAllowlist}, agent, "/usr/bin/rm"); d != DecisionDeny {
		t.Fatalf("expected deny for unmatched command under allowlist mode, got %s", d)
	}
}

// S2: ask_on_miss security mode with on_miss ask mode asks on an unmatched
// command and allows once the resolved command is added to the allowlist.
func TestDecide_AskOnMiss_S2(t *testing.T) {
	defaults := Defaults{Security: ModeAskOnMiss, Ask: AskOnMiss}
	agent := &AgentPolicy{}

	if d, _ := Decide(defaults, agent, "/usr/bin/git"); d != DecisionAsk {
		t.Fatalf("expected ask on first miss, got %s", d)
	}

	agent.Allowlist = append(agent.Allowlist, "/usr/bin/git")
	if d, _ := Decide(defaults, agent, "/usr/bin/git"); d != DecisionAllow {
		t.Fatalf("expected allow once allowlisted, got %s", d)
	}
}

func TestDecide_TrailingGlobMatchesPrefix(t *testing.T) {
	agent := &AgentPolicy{Allowlist: []string{"/usr/bin/git*"}}
	if d, _ := Decide(Defaults{Security: ModeAllowlist}, agent, "/usr/bin/git-status"); d != DecisionAllow {
		t.Fatalf("expected glob prefix match to allow, got %s", d)
	}
	if d, _ := Decide(Defaults{Security: ModeAllowlist}, agent, "/usr/bin/other"); d != DecisionDeny {
		t.Fatalf("expected non-matching command to deny, got %s", d)
	}
}

// Round-trip law: adding the same allowlist entry twice still yields exactly
// one matching entry and IsAllowlisted reports true.
func TestDocument_AddToAllowlist_RoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.AddToAllowlist("agent-1", "/usr/bin/ls")
	doc.AddToAllowlist("agent-1", "/usr/bin/ls")

	if !doc.IsAllowlisted("agent-1", "/usr/bin/ls") {
		t.Fatalf("expected /usr/bin/ls to be allowlisted")
	}
	if got := len(doc.Agents["agent-1"].Allowlist); got != 1 {
		t.Fatalf("expected idempotent add to leave one entry, got %d", got)
	}
}

func TestResolveExecutable_AbsolutePathUsedAsIs(t *testing.T) {
	got := ResolveExecutable("/opt/tools/mytool", "/bin/sh")
	if got != "/opt/tools/mytool" {
		t.Fatalf("expected absolute path unchanged, got %s", got)
	}
}

func TestResolveExecutable_FallsBackToShell(t *testing.T) {
	got := ResolveExecutable("definitely-not-a-real-binary-xyz", "/bin/sh")
	if got != "/bin/sh" {
		t.Fatalf("expected shell fallback, got %s", got)
	}
}

func TestMemoryStore_DecideAndAllow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	d, _, err := store.Decide(ctx, "a1", "/usr/bin/git")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d != DecisionAsk {
		t.Fatalf("expected ask for default policy, got %s", d)
	}

	if err := store.Allow(ctx, "a1", "/usr/bin/git"); err != nil {
		t.Fatalf("allow: %v", err)
	}
	d, _, err = store.Decide(ctx, "a1", "/usr/bin/git")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d != DecisionAllow {
		t.Fatalf("expected allow after allowlisting, got %s", d)
	}
}

func TestFileStore_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "approvals.json")

	store, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	defer store.Close()

	if err := store.Allow(ctx, "a1", "/usr/bin/ls"); err != nil {
		t.Fatalf("allow: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read approvals file: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty approvals file")
	}

	store2, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	defer store2.Close()

	snap, err := store2.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsAllowlisted("a1", "/usr/bin/ls") {
		t.Fatalf("expected reopened store to retain allowlist entry")
	}
}
