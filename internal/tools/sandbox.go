package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathNotAllowed indicates the path is outside the workspace roots.
	ErrPathNotAllowed = errors.New("path not allowed")
	// ErrPathDenied indicates the path is explicitly denied.
	ErrPathDenied = errors.New("path denied")
)

// maxReadBytes caps file reads so tool output stays bounded.
const maxReadBytes = 1024 * 1024

// Workspace confines the read-only file tools to a set of directories.
// Relative paths are resolved against Dir.
type Workspace struct {
	// Dir is the working directory for relative paths.
	Dir string
	// Roots is the allowlist of permitted directories.
	Roots []string
	// Deny is the denylist of forbidden directory prefixes.
	Deny []string
}

// NewWorkspace builds a workspace rooted at dir plus any extra roots. System
// pseudo filesystems and ~/.ssh are always denied.
func NewWorkspace(dir string, extraRoots ...string) *Workspace {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	deny := []string{"/proc", "/sys", "/dev"}
	if home, err := os.UserHomeDir(); err == nil {
		deny = append(deny, filepath.Join(home, ".ssh"))
	}
	roots := append([]string{dir}, extraRoots...)
	return &Workspace{Dir: dir, Roots: roots, Deny: deny}
}

// Resolve validates path and returns it as a clean absolute path with
// symlinks evaluated. An empty path means Dir.
func (w *Workspace) Resolve(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("no workspace configured: %w", ErrPathNotAllowed)
	}
	if path == "" {
		path = w.Dir
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.Dir, path)
	}
	clean := filepath.Clean(path)
	if _, err := os.Stat(clean); err != nil {
		return "", err
	}

	realPath := clean
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		realPath = resolved
	}

	for _, denied := range w.Deny {
		if isSubpath(denied, realPath) {
			return "", fmt.Errorf("%w: %s", ErrPathDenied, realPath)
		}
	}
	for _, root := range w.Roots {
		if root == "" {
			continue
		}
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
			rootAbs = resolved
		}
		if isSubpath(rootAbs, realPath) {
			return realPath, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPathNotAllowed, realPath)
}

// Display shortens an absolute path to be relative to Dir when it is inside.
func (w *Workspace) Display(path string) string {
	rel, err := filepath.Rel(w.Dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// isSubpath returns true when target is equal to or inside root.
func isSubpath(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
