package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/mjansen/tfs/internal/fsutil"
	"github.com/mjansen/tfs/internal/model"
)

// CollisionInput carries the information the collision resolver needs
// beyond the destination path itself.
type CollisionInput struct {
	Dst         string
	OpID        int
	IsSourceDir bool
	SourcePath  string // canonical source path, read for the file-bytes hash8 case
}

// ResolveCollision applies policy to dst, returning the final destination
// path to write to, whether an existing entry was displaced, and (for
// overwrite_with_backup) the backup path it was moved to (§4.C).
func ResolveCollision(fsys afero.Fs, policy model.CollisionPolicy, in CollisionInput) (finalDst string, overwrote bool, backup string, err error) {
	_, statErr := fsys.Stat(in.Dst)
	if statErr != nil {
		return in.Dst, false, "", nil
	}

	switch policy {
	case model.CollisionFail, "":
		return "", false, "", model.NewError(model.ErrDestinationExists, in.Dst, nil)

	case model.CollisionSuffix:
		// A suffixed name is, by construction, not the colliding
		// destination: nothing at in.Dst is overwritten.
		final, err := findFreeSuffix(fsys, in.Dst, in.IsSourceDir)
		if err != nil {
			return "", false, "", err
		}
		return final, false, "", nil

	case model.CollisionHash8:
		sum, err := hash8(fsys, in)
		if err != nil {
			return "", false, "", err
		}
		candidate := appendSuffix(in.Dst, "-"+sum, in.IsSourceDir)
		if _, err := fsys.Stat(candidate); err == nil {
			return "", false, "", model.NewError(model.ErrHashCollision, candidate, nil)
		}
		return candidate, false, "", nil

	case model.CollisionOverwriteWithBackup:
		backupPath := fmt.Sprintf("%s.bak.%d", in.Dst, in.OpID)
		if err := fsys.Rename(in.Dst, backupPath); err != nil {
			return "", false, "", model.NewError(model.ErrIO, "backing up "+in.Dst, err)
		}
		return in.Dst, true, backupPath, nil

	default:
		return "", false, "", model.NewError(model.ErrPolicyViolation, string(policy), nil)
	}
}

// findFreeSuffix appends _2, _3, ... to dst's stem (or, for a directory
// source, to the whole name) until a non-existent candidate is found.
func findFreeSuffix(fsys afero.Fs, dst string, isDir bool) (string, error) {
	for i := 2; i <= model.MaxSuffixAttempts; i++ {
		candidate := appendSuffix(dst, fmt.Sprintf("_%d", i), isDir)
		if _, err := fsys.Stat(candidate); err != nil {
			return candidate, nil
		}
	}
	return "", model.NewError(model.ErrIO, fmt.Sprintf("no free suffix for %s after %d attempts", dst, model.MaxSuffixAttempts), nil)
}

// appendSuffix appends suffix to path's base name, before the extension
// unless isDir is true (directory names are never split on "."). The base
// name is NFC-normalized first, so every generated candidate uses the
// composed form; existing entries are still looked up by exact name.
func appendSuffix(path, suffix string, isDir bool) string {
	dir := filepath.Dir(path)
	base := fsutil.NormalizeName(filepath.Base(path))
	if isDir {
		return filepath.Join(dir, base+suffix)
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+suffix+ext)
}

// hash8 returns the first 8 hex characters of a content-derived hash: of
// the source file's bytes for a file move/copy, or of the source's
// canonical path string for a directory (§9's Open Question resolution).
func hash8(fsys afero.Fs, in CollisionInput) (string, error) {
	h := sha256.New()
	if in.IsSourceDir {
		io.WriteString(h, in.SourcePath)
	} else {
		f, err := fsys.Open(in.SourcePath)
		if err != nil {
			return "", model.NewError(model.ErrSourceMissing, in.SourcePath, err)
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return "", model.NewError(model.ErrIO, "hashing "+in.SourcePath, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:8], nil
}
