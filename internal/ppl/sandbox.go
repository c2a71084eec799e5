package ppl

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// checkSandbox rejects any path outside root. Both sides are canonicalized
// first, so '..' segments and symlinks cannot escape. The check does not
// depend on whether the target exists: a denied path is denied before any
// read or write is attempted. An empty root disables the guard.
func checkSandbox(root, path string) error {
	if root == "" {
		return nil
	}
	base := canonicalPath(root)
	target := canonicalPath(path)
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return errors.Wrapf(ErrPermission,
			"access denied: '%s' is outside the sandbox '%s'", path, root)
	}
	return nil
}

// canonicalPath returns an absolute, symlink-resolved form of p. When p
// does not exist yet, the deepest existing ancestor is resolved and the
// remaining segments are appended unchanged.
func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	probe := abs
	var rest []string
	for {
		if resolved, err := filepath.EvalSymlinks(probe); err == nil {
			if len(rest) == 0 {
				return resolved
			}
			// rest was collected leaf-first
			for i, j := 0, len(rest)-1; i < j; i, j = i+1, j-1 {
				rest[i], rest[j] = rest[j], rest[i]
			}
			return filepath.Join(append([]string{resolved}, rest...)...)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return abs
		}
		rest = append(rest, filepath.Base(probe))
		probe = parent
	}
}
