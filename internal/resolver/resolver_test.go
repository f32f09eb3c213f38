package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mjansen/tfs/internal/model"
)

func TestResolve_RootRelativeAndCanonical(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root/sub", 0o750))

	rp, skipped, err := Resolve(fs, "/root", "sub/file.txt", Options{SymlinkPolicy: model.SymlinkFollow})
	require.NoError(t, err)
	require.False(t, skipped)
	require.Equal(t, "/root/sub/file.txt", rp.Canonical)
	require.Equal(t, filepath.Join("sub", "file.txt"), rp.RootRelative)
}

func TestResolve_NonAbsoluteRootRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, _, err := Resolve(fs, "relative/root", "a", Options{})
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrNonAbsoluteRoot, kind)
}

func TestResolve_DotDotEscapeRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root", 0o750))

	_, _, err := Resolve(fs, "/root", "../outside", Options{})
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrRootEscape, kind)
}

func TestResolve_NonExistentDestinationSuffixIsLexical(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root", 0o750))

	rp, skipped, err := Resolve(fs, "/root", "new/dir/file.txt", Options{SymlinkPolicy: model.SymlinkFollow})
	require.NoError(t, err)
	require.False(t, skipped)
	require.Equal(t, "/root/new/dir/file.txt", rp.Canonical)
}

// Symlink behavior needs a real filesystem: afero.MemMapFs never reports a
// path as a symlink (see lstatLink's doc comment).
func TestResolve_SymlinkPolicySkip(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o750))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

	fs := afero.NewOsFs()
	_, skipped, err := Resolve(fs, root, "link/file.txt", Options{SymlinkPolicy: model.SymlinkSkip})
	require.NoError(t, err)
	require.True(t, skipped)
}

func TestResolve_SymlinkPolicyError(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o750))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

	fs := afero.NewOsFs()
	_, _, err := Resolve(fs, root, "link/file.txt", Options{SymlinkPolicy: model.SymlinkError})
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrSymlinkPolicy, kind)
}

func TestResolve_SymlinkEscapeRejectedByDefault(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	outside := filepath.Join(dir, "outside")
	require.NoError(t, os.MkdirAll(root, 0o750))
	require.NoError(t, os.MkdirAll(outside, 0o750))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	fs := afero.NewOsFs()
	_, _, err := Resolve(fs, root, "escape/file.txt", Options{SymlinkPolicy: model.SymlinkFollow})
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrRootEscape, kind)
}

func TestResolve_SymlinkEscapeAllowedWhenOptedIn(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	outside := filepath.Join(dir, "outside")
	require.NoError(t, os.MkdirAll(root, 0o750))
	require.NoError(t, os.MkdirAll(outside, 0o750))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	fs := afero.NewOsFs()
	rp, skipped, err := Resolve(fs, root, "escape/file.txt", Options{
		SymlinkPolicy:      model.SymlinkFollow,
		AllowSymlinkEscape: true,
	})
	require.NoError(t, err)
	require.False(t, skipped)
	require.Equal(t, filepath.Join(outside, "file.txt"), rp.Canonical)
}
