// Package sandbox confines file paths to a sandbox root.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a resolved path would leave the sandbox root.
var ErrPathEscape = errors.New("sandbox: path escapes sandbox root")

// Resolver confines user-supplied paths to a single root directory.
//
// Resolution is purely lexical: it never touches the filesystem and
// therefore never resolves symbolic links. A symlink inside the sandbox
// that points outside of it will still be followed by whatever eventually
// opens the file — see DESIGN.md for the accepted weakness.
type Resolver struct {
	root string
}

// New creates a Resolver rooted at root, which is itself resolved to an
// absolute, cleaned path at construction time.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolving root: %w", err)
	}
	return &Resolver{root: filepath.Clean(abs)}, nil
}

// Root returns the sandbox's absolute root directory.
func (r *Resolver) Root() string { return r.root }

// Resolve maps userPath into an absolute path confined to the sandbox root.
// Relative inputs are joined against the root; absolute inputs are merely
// normalized. Either way, the result must not escape the root.
func (r *Resolver) Resolve(userPath string) (string, error) {
	var abs string
	if filepath.IsAbs(userPath) {
		abs = filepath.Clean(userPath)
	} else {
		abs = filepath.Clean(filepath.Join(r.root, userPath))
	}

	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, userPath)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, userPath)
	}
	return abs, nil
}

// Contains reports whether abs (already resolved/cleaned) lies within the
// sandbox root, without returning an error.
func (r *Resolver) Contains(abs string) bool {
	clean := filepath.Clean(abs)
	rel, err := filepath.Rel(r.root, clean)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
