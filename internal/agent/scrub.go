package agent

import "regexp"

// toolCallPreambleMarkers match trailing fragments some providers
// inadvertently emit in the final text chunk of a tool-calling turn —
// leftover function-call scaffolding that leaked into the text channel.
// Grounded on the teacher's internal/gateway secret-pattern scrubber
// (guards.go), same precompiled-regexp-table shape, different targets.
var toolCallPreambleMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<function_calls>.*$`),
	regexp.MustCompile(`(?s)<\|python_tag\|>.*$`),
	regexp.MustCompile(`(?s)\[TOOL_CALL\].*$`),
	regexp.MustCompile(`(?s)```tool_code\n.*$`),
}

// ScrubTrailingToolCallPreamble strips any trailing content matching a
// known tool-call preamble marker before the reply text is returned to the
// caller (§4.6 "Token-leakage scrubbing").
func ScrubTrailingToolCallPreamble(text string) string {
	for _, re := range toolCallPreambleMarkers {
		if loc := re.FindStringIndex(text); loc != nil {
			text = text[:loc[0]]
		}
	}
	return text
}
