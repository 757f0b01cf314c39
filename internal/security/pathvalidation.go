// Package security guards filesystem paths derived from client input.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SanitizeFilename reduces a client-supplied name stem to a safe token.
// ASCII letters, digits, dash and underscore survive; spaces and dots
// become underscores; everything else, path separators included, is
// dropped. An empty result falls back to "video".
func SanitizeFilename(stem string) string {
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '.':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "video"
	}
	return b.String()
}

// ValidatePathWithinDirectory reports whether path stays inside dir once
// cleaned and resolved. Symlinks in existing ancestors are followed so a
// link inside dir cannot smuggle a write outside it. The final path
// component does not have to exist yet.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	canonical := resolveExisting(absPath)
	canonicalDir := resolveExisting(absDir)

	if canonical != canonicalDir && !strings.HasPrefix(canonical, canonicalDir+string(os.PathSeparator)) {
		return fmt.Errorf("path %s escapes %s", path, dir)
	}
	return nil
}

// resolveExisting follows symlinks through the deepest existing ancestor
// of path and rejoins the remaining components.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	check := path
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return path
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}
