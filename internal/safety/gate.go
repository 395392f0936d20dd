// Package safety implements the Safety Gate: a pure decision function that
// maps a tool action category to allow/ask/deny given the gateway's
// configured policy. It performs no I/O and holds no state beyond its
// config, mirroring the small config-driven policy structs the rest of the
// codebase uses (internal/agent.ApprovalPolicy, internal/tools/policy.Policy).
package safety

// Decision is the Safety Gate's verdict for one action category.
type Decision string

const (
	Allow Decision = "allow"
	Ask   Decision = "ask"
	Deny  Decision = "deny"
)

// Category is a tool action category the gate can be configured to guard.
type Category string

const (
	CategoryFileWrite    Category = "file_write"
	CategorySystemCmd    Category = "system_command"
	CategoryGitOps       Category = "git_operations"
	CategoryNotification Category = "notification"
)

// Config is the Safety Gate's policy: a global on/off switch plus a set of
// categories that require the caller to solicit confirmation (via the
// Approval Store or a UI confirmation channel) rather than run unchecked.
type Config struct {
	Enabled              bool
	ConfirmationRequired map[Category]bool
}

// DefaultConfig enables the gate with no categories requiring confirmation;
// callers opt categories in explicitly via config.
func DefaultConfig() Config {
	return Config{Enabled: true, ConfirmationRequired: map[Category]bool{}}
}

// Result is the gate's verdict plus a human-readable reason, useful for
// audit-log entries and for surfacing to an operator UI.
type Result struct {
	Decision Decision
	Reason   string
}

// Check evaluates the gate for one action category. It is referentially
// transparent given (cfg, category): no I/O, no hidden state.
func Check(cfg Config, category Category) Result {
	if !cfg.Enabled {
		return Result{Decision: Allow, Reason: "safety gate disabled"}
	}
	if cfg.ConfirmationRequired[category] {
		return Result{Decision: Ask, Reason: "category requires confirmation"}
	}
	return Result{Decision: Allow, Reason: "no confirmation configured for category"}
}
