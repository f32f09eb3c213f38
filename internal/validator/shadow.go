package validator

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// shadow is the presence-only side table described in §9's design note:
// a set of canonical paths known to exist, seeded with root's existing
// ancestors and then filled in as paths are first referenced. A path found
// present is cached and never probed again during that normalization; a
// path found absent is not cached and is probed again on its next reference.
type shadow struct {
	exists map[string]struct{}
}

// newShadow seeds exists with every ancestor directory of root that is
// actually present, by walking up from root.
func newShadow(fsys afero.Fs, root string) *shadow {
	s := &shadow{exists: make(map[string]struct{})}
	s.probeAncestors(fsys, root)
	return s
}

// probeAncestors records which of path's ancestors (including path itself)
// exist, stopping at the first that does not.
func (s *shadow) probeAncestors(fsys afero.Fs, path string) {
	for {
		if _, ok := s.exists[path]; ok {
			return
		}
		if _, err := fsys.Stat(path); err != nil {
			return
		}
		s.exists[path] = struct{}{}
		parent := filepath.Dir(path)
		if parent == path {
			return
		}
		path = parent
	}
}

// Exists reports whether path is known to exist, probing the real
// filesystem on first reference and caching the result.
func (s *shadow) Exists(fsys afero.Fs, path string) bool {
	if _, ok := s.exists[path]; ok {
		return true
	}
	if _, err := fsys.Stat(path); err == nil {
		s.exists[path] = struct{}{}
		return true
	}
	return false
}
