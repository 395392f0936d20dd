package reply

import (
	"context"
	"fmt"
	"strings"
)

// StatusCommand short-circuits `/status`: a synchronous snapshot of
// process health, with no model call. statusFn is called fresh on every
// invocation so it always reflects current state.
func StatusCommand(statusFn func() string) InlineCommand {
	return func(_ context.Context, _, text string) (string, bool) {
		if !strings.EqualFold(strings.TrimSpace(text), "/status") {
			return "", false
		}
		if statusFn == nil {
			return "status unavailable", true
		}
		return statusFn(), true
	}
}

// SkillsCommand short-circuits `/skills`: the skills snapshot's prompt
// text verbatim, with no model call.
func SkillsCommand(snapshot func() SkillSnapshot) InlineCommand {
	return func(_ context.Context, _, text string) (string, bool) {
		if !strings.EqualFold(strings.TrimSpace(text), "/skills") {
			return "", false
		}
		if snapshot == nil {
			return "no skills loaded", true
		}
		snap := snapshot()
		if strings.TrimSpace(snap.PromptText) == "" {
			return "no skills loaded", true
		}
		return fmt.Sprintf("skills (v%d):\n%s", snap.Version, snap.PromptText), true
	}
}
