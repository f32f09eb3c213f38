// Package resolver implements the Path Resolver (§4.A): canonicalizing and
// confining a path under a plan's declared root.
package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/mjansen/tfs/internal/model"
)

// maxSymlinkDepth bounds symlink-chasing during canonicalization so a
// symlink cycle cannot hang the resolver.
const maxSymlinkDepth = 40

// Options controls how Resolve canonicalizes a path.
type Options struct {
	SymlinkPolicy model.SymlinkPolicy
	// AllowSymlinkEscape opts a plan into permitting a symlink target that
	// resolves outside root, overriding the default RootEscape rejection
	// (§4.A rule 4). Off unless the caller explicitly sets it.
	AllowSymlinkEscape bool
}

// Resolve canonicalizes inputPath relative to root and confines it under
// root. skipped is true only when symlinkPolicy is "skip" and a symlink was
// encountered — the caller (the validator) should omit the operation
// rather than treat this as an error.
func Resolve(fsys afero.Fs, root, inputPath string, opts Options) (rp model.ResolvedPath, skipped bool, err error) {
	if !filepath.IsAbs(root) {
		return model.ResolvedPath{}, false, model.NewError(model.ErrNonAbsoluteRoot, root, nil)
	}

	canonicalRoot, _, err := canonicalize(fsys, filepath.Clean(root), opts)
	if err != nil {
		return model.ResolvedPath{}, false, err
	}

	joined := inputPath
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(root, inputPath)
	}
	lexical := filepath.Clean(joined)

	if !underRoot(lexical, filepath.Clean(root)) {
		return model.ResolvedPath{}, false, model.NewError(model.ErrRootEscape, inputPath, nil)
	}

	canonical, skip, err := canonicalize(fsys, lexical, opts)
	if err != nil {
		return model.ResolvedPath{}, false, err
	}
	if skip {
		return model.ResolvedPath{}, true, nil
	}

	if !underRoot(canonical, canonicalRoot) {
		if !opts.AllowSymlinkEscape {
			return model.ResolvedPath{}, false, model.NewError(model.ErrRootEscape, inputPath, nil)
		}
	}

	rel, err := filepath.Rel(canonicalRoot, canonical)
	if err != nil {
		return model.ResolvedPath{}, false, model.NewError(model.ErrInvalidPath, inputPath, err)
	}

	return model.ResolvedPath{RootRelative: rel, Canonical: canonical}, false, nil
}

// underRoot reports whether path is root or a descendant of root.
func underRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// canonicalize walks the existing prefixes of path, following/rejecting
// symlinks per opts.SymlinkPolicy, and appends the remaining (non-existent)
// suffix lexically once it finds a prefix that does not exist. Destinations
// need not exist in full — only their existing prefix is canonicalized.
func canonicalize(fsys afero.Fs, path string, opts Options) (string, bool, error) {
	vol := filepath.VolumeName(path)
	segments := strings.Split(strings.TrimPrefix(path[len(vol):], string(filepath.Separator)), string(filepath.Separator))

	current := vol + string(filepath.Separator)
	depth := 0

	for i, seg := range segments {
		if seg == "" {
			continue
		}
		candidate := filepath.Join(current, seg)

		target, isLink, err := lstatLink(fsys, candidate)
		if err != nil {
			if os.IsNotExist(err) {
				// Nothing further exists; append the remainder lexically.
				rest := segments[i:]
				return filepath.Join(append([]string{candidate}, rest[1:]...)...), false, nil
			}
			return "", false, model.NewError(model.ErrInvalidPath, candidate, err)
		}

		if !isLink {
			current = candidate
			continue
		}

		switch opts.SymlinkPolicy {
		case model.SymlinkSkip:
			return "", true, nil
		case model.SymlinkError:
			return "", false, model.NewError(model.ErrSymlinkPolicy, candidate, nil)
		case model.SymlinkFollow, "":
			resolved, err := followLink(fsys, candidate, target, &depth)
			if err != nil {
				return "", false, err
			}
			current = resolved
		default:
			return "", false, model.NewError(model.ErrSymlinkPolicy, candidate, nil)
		}
	}

	return current, false, nil
}

// followLink resolves a single symlink hop (and any further hops in the
// chain), bounded by maxSymlinkDepth.
func followLink(fsys afero.Fs, linkPath, target string, depth *int) (string, error) {
	for {
		*depth++
		if *depth > maxSymlinkDepth {
			return "", model.NewError(model.ErrInvalidPath, linkPath, nil)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(linkPath), target)
		}
		target = filepath.Clean(target)

		nextTarget, isLink, err := lstatLink(fsys, target)
		if err != nil {
			if os.IsNotExist(err) {
				return target, nil
			}
			return "", model.NewError(model.ErrInvalidPath, target, err)
		}
		if !isLink {
			return target, nil
		}
		linkPath = target
		target = nextTarget
	}
}

// lstatLink reports whether path exists, and if it is a symlink, its raw
// (unresolved) target. afero.Fs does not expose Lstat/Readlink uniformly
// across backends; when the concrete filesystem doesn't support them (e.g.
// afero.MemMapFs, used in tests) a path is never reported as a symlink,
// which is sound because an in-memory filesystem never contains real
// symlinks.
func lstatLink(fsys afero.Fs, path string) (target string, isLink bool, err error) {
	lstater, ok := fsys.(afero.Lstater)
	if !ok {
		_, err := fsys.Stat(path)
		return "", false, err
	}

	info, lstatCalled, err := lstater.LstatIfPossible(path)
	if err != nil {
		return "", false, err
	}
	if !lstatCalled || info.Mode()&os.ModeSymlink == 0 {
		return "", false, nil
	}

	reader, ok := fsys.(afero.LinkReader)
	if !ok {
		// Symlink-aware Lstat without a way to read the target: treat as
		// an ordinary (non-traversable) entry rather than guessing.
		return "", false, nil
	}
	tgt, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return "", false, err
	}
	return tgt, true, nil
}
