package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver canonicalizes a path-bearing tool argument and rejects it if
// it escapes the declared workspace root, per §4.4. Grounded on the
// teacher's internal/tools/files.Resolver.
type PathResolver struct {
	// Root is the workspace root all relative/escaping paths are checked
	// against.
	Root string
	// AllowHome permits paths under the user's home directory even when
	// they fall outside Root, for tools that explicitly operate on a
	// user-specified folder (§4.4 parenthetical).
	AllowHome bool
}

// Resolve returns an absolute, cleaned path confined to Root (or, if
// AllowHome is set, also confined to the user's home directory).
func (r PathResolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}

	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if withinRoot(rootAbs, targetAbs) {
		return targetAbs, nil
	}
	if r.AllowHome {
		if home, err := os.UserHomeDir(); err == nil && withinRoot(home, targetAbs) {
			return targetAbs, nil
		}
	}
	return "", fmt.Errorf("path escapes workspace")
}

func withinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
