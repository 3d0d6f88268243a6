// Package workspace confines every file the service stages (media, OCR
// output, reports, exports, the knowledge database) to one root directory.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves paths against the workspace root and rejects any that
// escape it, including through symlinks.
type Guard struct {
	root string
}

// NewGuard creates the workspace directory when needed and returns a guard
// rooted at its canonical path.
func NewGuard(workspacePath string) (*Guard, error) {
	root, err := ResolveRoot(workspacePath)
	if err != nil {
		return nil, err
	}
	return &Guard{root: root}, nil
}

// ResolveRoot expands "~", makes the path absolute, creates it and resolves
// symlinks. An empty path means the current directory.
func ResolveRoot(workspacePath string) (string, error) {
	dir := strings.TrimSpace(workspacePath)
	if dir == "" {
		dir = "."
	}

	if dir == "~" || strings.HasPrefix(dir, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, dir[1:])
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", osError("resolve root", abs, err)
	}
	return real, nil
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string {
	return g.root
}

// ResolvePath returns the canonical absolute form of a workspace-relative or
// absolute path, or ErrOutsideWorkspace when it lands outside the root.
func (g *Guard) ResolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", newPathError("resolve", path, ErrInvalidPath)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.root, path)
	}

	real, err := canonical(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if !within(g.root, real) {
		return "", newPathError("resolve", g.display(path), ErrOutsideWorkspace)
	}
	return real, nil
}

// EnsureContained repeats the containment check on an already resolved path,
// right before it is written.
func (g *Guard) EnsureContained(path string) error {
	real, err := canonical(path)
	if err != nil {
		return err
	}
	if !within(g.root, real) {
		return newPathError("write", g.display(path), ErrOutsideWorkspace)
	}
	return nil
}

// RelPath returns path relative to the root, or path itself when it is not
// inside the root.
func (g *Guard) RelPath(path string) string {
	rel, err := filepath.Rel(g.root, path)
	if err != nil || !filepath.IsLocal(rel) && rel != "." {
		return filepath.Clean(path)
	}
	return rel
}

func (g *Guard) display(path string) string {
	return g.RelPath(path)
}

// canonical resolves symlinks in the longest existing prefix of path and
// appends the part that does not exist yet.
func canonical(path string) (string, error) {
	existing := path
	var missing []string
	for {
		real, err := filepath.EvalSymlinks(existing)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		if !os.IsNotExist(err) {
			return "", osError("resolve", path, err)
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			return "", newPathError("resolve", path, ErrInvalidPath)
		}
		missing = append(missing, filepath.Base(existing))
		existing = parent
	}
}

func within(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
