// Package sandbox enforces filesystem, mount, and shell containment for
// agent tool calls. Path checks canonicalize on every call: symlink targets
// can change between calls, so nothing here is cached.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEscape means a path resolves outside the workspace root.
	ErrEscape = errors.New("path escapes workspace")
	// ErrBlocked means a mount or command hit the deny-list.
	ErrBlocked = errors.New("blocked by sandbox policy")
)

// ValidatePathInWorkspace resolves candidate (relative, "..", or symlinked)
// against root and returns the canonical absolute path if it stays within
// root. The candidate itself need not exist: the deepest existing ancestor
// is resolved for symlinks and the remainder is re-joined, so a write to a
// not-yet-created file is still containable.
func ValidatePathInWorkspace(root, candidate string) (string, error) {
	canonRoot, err := canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root %q: %w", root, err)
	}

	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(canonRoot, abs)
	}

	canon, err := canonicalize(abs)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", candidate, err)
	}

	if canon != canonRoot && !strings.HasPrefix(canon, canonRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%q resolves to %q: %w", candidate, canon, ErrEscape)
	}
	return canon, nil
}

// canonicalize returns the symlink-free absolute form of path. For paths
// that do not exist yet, the longest existing ancestor is resolved and the
// non-existing suffix is appended after lexical cleaning.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	// Walk up to the deepest existing ancestor.
	dir := abs
	var rest []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			// Hit the filesystem root without finding anything.
			return abs, nil
		}
		rest = append(rest, filepath.Base(dir))
		dir = parent

		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(rest) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, rest[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
}
