// Package executor implements the Operation Executor (§4.C): performing a
// single normalized operation against the filesystem and reporting its
// observable effect. The executor is stateless beyond the filesystem.
package executor

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/mjansen/tfs/internal/fsutil"
	"github.com/mjansen/tfs/internal/model"
)

// osCreateFlags truncates and creates the destination exclusively of any
// prior content; ResolveCollision has already decided whether overwriting
// dst is acceptable by the time copyTree is called.
const osCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// syncFile fsyncs f if the underlying afero.File backs a real descriptor
// (afero.OsFs); in-memory filesystems have nothing to sync.
func syncFile(f afero.File) error {
	type syncer interface {
		Sync() error
	}
	if s, ok := f.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// Executor performs operations against an afero.Fs. The same Executor runs
// against afero.NewOsFs() in production, afero.NewMemMapFs() in tests, and
// the Transaction Manager's copy-on-write overlay in dry-run.
type Executor struct {
	fs afero.Fs
}

// New creates an Executor backed by fs.
func New(fs afero.Fs) *Executor {
	return &Executor{fs: fs}
}

// Execute performs op under policy, returning the effect it produced. It
// never consults or mutates the journal — that is the Transaction
// Manager's job (§4.E).
func (e *Executor) Execute(op model.NormalizedOp, policy model.CollisionPolicy, forbidCrossDevice bool) (model.Effect, error) {
	switch op.Kind {
	case model.OpMkdir:
		return e.mkdir(op)
	case model.OpMove:
		return e.move(op, policy, forbidCrossDevice)
	case model.OpCopy:
		return e.copy(op, policy)
	case model.OpRename:
		return e.rename(op, policy, forbidCrossDevice)
	case model.OpTrash:
		return e.trash(op)
	case model.OpRemove:
		return e.remove(op)
	case model.OpNoop:
		return model.Effect{}, nil
	default:
		return model.Effect{}, model.NewError(model.ErrStructurallyInvalid, string(op.Kind), nil)
	}
}

func (e *Executor) mkdir(op model.NormalizedOp) (model.Effect, error) {
	info, err := e.fs.Stat(op.Dst.Canonical)
	switch {
	case err == nil && info.IsDir():
		return model.Effect{Kind: model.EffectMkdirExisted, At: op.Dst.Canonical}, nil
	case err == nil:
		return model.Effect{}, model.NewError(model.ErrNotADirectory, op.Dst.Canonical, nil)
	}

	if err := e.fs.MkdirAll(op.Dst.Canonical, model.DefaultDirPerms); err != nil {
		return model.Effect{}, model.NewError(model.ErrIO, "mkdir "+op.Dst.Canonical, err)
	}
	return model.Effect{Kind: model.EffectMkdirCreated, At: op.Dst.Canonical}, nil
}

func (e *Executor) move(op model.NormalizedOp, policy model.CollisionPolicy, forbidCrossDevice bool) (model.Effect, error) {
	if _, err := e.fs.Stat(op.Src.Canonical); err != nil {
		return model.Effect{}, model.NewError(model.ErrSourceMissing, op.Src.Canonical, err)
	}

	isDir := e.isDir(op.Src.Canonical)
	finalDst, _, _, err := ResolveCollision(e.fs, policy, CollisionInput{
		Dst: op.Dst.Canonical, OpID: op.OpID, IsSourceDir: isDir, SourcePath: op.Src.Canonical,
	})
	if err != nil {
		return model.Effect{}, err
	}

	sameDevice, devErr := fsutil.SameDevice(op.Src.Canonical, filepath.Dir(finalDst))
	if devErr != nil {
		// No real device information available (e.g. an in-memory
		// filesystem in tests): assume same-device, the common case.
		sameDevice = true
	}

	if sameDevice {
		if err := e.fs.Rename(op.Src.Canonical, finalDst); err != nil {
			return model.Effect{}, model.NewError(model.ErrIO, "rename "+op.Src.Canonical, err)
		}
		return model.Effect{Kind: model.EffectMovedSameDevice, From: op.Src.Canonical, To: finalDst}, nil
	}

	if forbidCrossDevice {
		return model.Effect{}, model.NewError(model.ErrCrossDevice, op.Src.Canonical, nil)
	}

	n, err := e.copyTree(op.Src.Canonical, finalDst)
	if err != nil {
		return model.Effect{}, err
	}
	if err := e.fs.RemoveAll(op.Src.Canonical); err != nil {
		return model.Effect{}, model.NewError(model.ErrIO, "unlinking source "+op.Src.Canonical, err)
	}
	return model.Effect{Kind: model.EffectMovedCrossDevice, From: op.Src.Canonical, To: finalDst, Bytes: n}, nil
}

func (e *Executor) rename(op model.NormalizedOp, policy model.CollisionPolicy, forbidCrossDevice bool) (model.Effect, error) {
	// The validator guarantees src and dst share a parent, so this is
	// always the same-device fast path; if the filesystem disagrees
	// (e.g. a bind mount split across devices) that is a genuine error,
	// not a silent fallback.
	if _, err := e.fs.Stat(op.Src.Canonical); err != nil {
		return model.Effect{}, model.NewError(model.ErrSourceMissing, op.Src.Canonical, err)
	}

	isDir := e.isDir(op.Src.Canonical)
	finalDst, _, _, err := ResolveCollision(e.fs, policy, CollisionInput{
		Dst: op.Dst.Canonical, OpID: op.OpID, IsSourceDir: isDir, SourcePath: op.Src.Canonical,
	})
	if err != nil {
		return model.Effect{}, err
	}

	sameDevice, devErr := fsutil.SameDevice(op.Src.Canonical, filepath.Dir(finalDst))
	if devErr == nil && !sameDevice {
		return model.Effect{}, model.NewError(model.ErrCrossDevice, op.Src.Canonical, nil)
	}
	if forbidCrossDevice && devErr != nil {
		// Can't prove same-device; fail closed rather than risk a silent
		// cross-device copy the caller explicitly forbade.
		return model.Effect{}, model.NewError(model.ErrCrossDevice, op.Src.Canonical, devErr)
	}

	if err := e.fs.Rename(op.Src.Canonical, finalDst); err != nil {
		return model.Effect{}, model.NewError(model.ErrIO, "rename "+op.Src.Canonical, err)
	}
	return model.Effect{Kind: model.EffectMovedSameDevice, From: op.Src.Canonical, To: finalDst}, nil
}

func (e *Executor) copy(op model.NormalizedOp, policy model.CollisionPolicy) (model.Effect, error) {
	if _, err := e.fs.Stat(op.Src.Canonical); err != nil {
		return model.Effect{}, model.NewError(model.ErrSourceMissing, op.Src.Canonical, err)
	}

	isDir := e.isDir(op.Src.Canonical)
	finalDst, overwrote, backup, err := ResolveCollision(e.fs, policy, CollisionInput{
		Dst: op.Dst.Canonical, OpID: op.OpID, IsSourceDir: isDir, SourcePath: op.Src.Canonical,
	})
	if err != nil {
		return model.Effect{}, err
	}

	n, err := e.copyTree(op.Src.Canonical, finalDst)
	if err != nil {
		return model.Effect{}, err
	}

	return model.Effect{Kind: model.EffectCopied, To: finalDst, Bytes: n, Overwrote: overwrote, Backup: backup}, nil
}

func (e *Executor) trash(op model.NormalizedOp) (model.Effect, error) {
	if _, err := e.fs.Stat(op.Src.Canonical); err != nil {
		return model.Effect{}, model.NewError(model.ErrSourceMissing, op.Src.Canonical, err)
	}

	if err := e.fs.MkdirAll(filepath.Dir(op.Dst.Canonical), model.DefaultDirPerms); err != nil {
		return model.Effect{}, model.NewError(model.ErrIO, "creating trash dir", err)
	}
	if err := e.fs.Rename(op.Src.Canonical, op.Dst.Canonical); err != nil {
		return model.Effect{}, model.NewError(model.ErrIO, "trashing "+op.Src.Canonical, err)
	}
	return model.Effect{Kind: model.EffectTrashed, From: op.Src.Canonical, To: op.Dst.Canonical}, nil
}

// remove deletes op.Dst: a file is unlinked outright; a directory is
// rmdir'd only if it is still empty, otherwise left in place and reported
// as success, with no warning or other signal that it was skipped.
// Already-absent is treated as success so rollback/undo stays idempotent.
func (e *Executor) remove(op model.NormalizedOp) (model.Effect, error) {
	path := op.Dst.Canonical
	info, err := e.fs.Stat(path)
	if err != nil {
		return model.Effect{}, nil
	}

	if info.IsDir() {
		entries, err := afero.ReadDir(e.fs, path)
		if err != nil {
			return model.Effect{}, model.NewError(model.ErrIO, "reading "+path, err)
		}
		if len(entries) > 0 {
			return model.Effect{}, nil
		}
		if err := e.fs.Remove(path); err != nil {
			return model.Effect{}, model.NewError(model.ErrIO, "rmdir "+path, err)
		}
		return model.Effect{}, nil
	}

	if err := e.fs.Remove(path); err != nil {
		return model.Effect{}, model.NewError(model.ErrIO, "removing "+path, err)
	}
	return model.Effect{}, nil
}

func (e *Executor) isDir(path string) bool {
	info, err := e.fs.Stat(path)
	return err == nil && info.IsDir()
}

// copyTree copies src to dst, creating dst's parent directory first. A
// file is streamed and fsynced along with its parent before returning
// (§4.C, "Fsync destination file and parent directory before reporting
// ok"); a directory is copied recursively, file by file, so cross-device
// move/copy never silently drops a subtree (§8 inv. 4: the reverse of a
// MovedCrossDevice effect must be able to restore everything that moved).
// It returns the total number of bytes written across every file copied.
func (e *Executor) copyTree(src, dst string) (int64, error) {
	info, err := e.fs.Stat(src)
	if err != nil {
		return 0, model.NewError(model.ErrSourceMissing, src, err)
	}

	if err := e.fs.MkdirAll(filepath.Dir(dst), model.DefaultDirPerms); err != nil {
		return 0, model.NewError(model.ErrIO, "creating destination directory", err)
	}

	if info.IsDir() {
		return e.copyDir(src, dst, info.Mode().Perm())
	}
	return e.copyFile(src, dst, info)
}

// copyDir recreates src's directory structure at dst and copies every
// entry it contains, recursing into subdirectories.
func (e *Executor) copyDir(src, dst string, perm os.FileMode) (int64, error) {
	if err := e.fs.MkdirAll(dst, perm); err != nil {
		return 0, model.NewError(model.ErrIO, "creating directory "+dst, err)
	}

	entries, err := afero.ReadDir(e.fs, src)
	if err != nil {
		return 0, model.NewError(model.ErrIO, "reading directory "+src, err)
	}

	var total int64
	for _, entry := range entries {
		childSrc := filepath.Join(src, entry.Name())
		childDst := filepath.Join(dst, entry.Name())

		var n int64
		if entry.IsDir() {
			n, err = e.copyDir(childSrc, childDst, entry.Mode().Perm())
		} else {
			n, err = e.copyFile(childSrc, childDst, entry)
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// copyFile streams a single regular file from src to dst, fsyncing the
// new file and its parent directory before returning.
func (e *Executor) copyFile(src, dst string, info os.FileInfo) (int64, error) {
	in, err := e.fs.Open(src)
	if err != nil {
		return 0, model.NewError(model.ErrIO, "opening "+src, err)
	}
	defer in.Close()

	out, err := e.fs.OpenFile(dst, osCreateFlags, info.Mode())
	if err != nil {
		return 0, model.NewError(model.ErrIO, "creating "+dst, err)
	}

	n, copyErr := io.Copy(out, in)
	syncErr := syncFile(out)
	closeErr := out.Close()
	if copyErr != nil {
		return n, model.NewError(model.ErrIO, "copying "+src+" to "+dst, copyErr)
	}
	if syncErr != nil {
		return n, model.NewError(model.ErrIO, "fsyncing "+dst, syncErr)
	}
	if closeErr != nil {
		return n, model.NewError(model.ErrIO, "closing "+dst, closeErr)
	}

	if err := fsutil.FsyncDir(filepath.Dir(dst)); err != nil {
		// Best-effort: not every afero backend backs a real directory fd
		// (e.g. MemMapFs), so a failure here is not fatal to the copy.
		_ = err
	}

	return n, nil
}
