package agent

import "strings"

// modelAliases rewrites deprecated or shorthand model ids to the concrete
// id a ModelClient expects, grounded on the teacher's
// internal/models.Catalog alias map but narrowed to a flat rewrite table
// (this gateway has no model capability/tier catalog of its own — callers
// configure their fallback chain directly).
var modelAliases = map[string]string{
	"claude-3-sonnet": "claude-3-5-sonnet-20241022",
	"claude-3-opus":   "claude-3-opus-20240229",
	"gpt-4":           "gpt-4o",
	"gpt-4-turbo":     "gpt-4o",
	"gpt-3.5":         "gpt-3.5-turbo",
}

// ResolveModelAlias rewrites a possibly-deprecated model id to its current
// equivalent, returning id unchanged if it has no alias entry.
func ResolveModelAlias(id string) string {
	if real, ok := modelAliases[strings.ToLower(strings.TrimSpace(id))]; ok {
		return real
	}
	return id
}
