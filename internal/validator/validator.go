// Package validator implements the Validator/Normalizer (§4.B): resolving
// every operation's paths, rejecting structurally impossible operations,
// injecting implied mkdirs, enforcing policy gates, and assigning op_id by
// position.
package validator

import (
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"

	"github.com/mjansen/tfs/internal/model"
	"github.com/mjansen/tfs/internal/resolver"
)

// Normalize turns a Plan into a canonical OpStream. fsys is consulted only
// for existence (never content); directory presence goes through a
// presence-only shadow that caches each directory found present (§9
// design note), so two
// calls against an unchanged filesystem are byte-identical (§4.B
// "Determinism", §8 invariant 5).
func Normalize(plan *model.Plan, fsys afero.Fs) (*model.OpStream, error) {
	if !filepath.IsAbs(plan.Root) {
		return nil, model.NewError(model.ErrNonAbsoluteRoot, plan.Root, nil)
	}

	ropts := resolver.Options{SymlinkPolicy: plan.SymlinkPolicy}
	canonicalRoot, skipped, err := resolver.Resolve(fsys, plan.Root, plan.Root, ropts)
	if err != nil {
		return nil, err
	}
	if skipped {
		return nil, model.NewError(model.ErrSymlinkPolicy, plan.Root, nil)
	}

	if plan.CollisionPolicy == model.CollisionOverwriteWithBackup && !plan.AllowOverwrite {
		return nil, model.NewError(model.ErrPolicyViolation, "overwrite_with_backup requires allow_overwrite", nil)
	}

	n := &normalizer{
		plan:      plan,
		fsys:      fsys,
		ropts:     ropts,
		root:      canonicalRoot.Canonical,
		shadow:    newShadow(fsys, canonicalRoot.Canonical),
		scheduled: make(map[string]struct{}),
	}

	for _, raw := range plan.Operations {
		if err := n.add(raw); err != nil {
			return nil, err
		}
	}

	return &model.OpStream{
		Root:              n.root,
		TransactionMode:   plan.TransactionMode,
		CollisionPolicy:   plan.CollisionPolicy,
		SymlinkPolicy:     plan.SymlinkPolicy,
		ForbidCrossDevice: plan.ForbidCrossDevice,
		MaxBytes:          plan.MaxBytes,
		Ops:               n.ops,
	}, nil
}

type normalizer struct {
	plan      *model.Plan
	fsys      afero.Fs
	ropts     resolver.Options
	root      string
	shadow    *shadow
	scheduled map[string]struct{} // canonical dirs that will exist once the stream runs so far
	ops       []model.NormalizedOp
}

func (n *normalizer) nextOpID() int { return len(n.ops) + 1 }

func (n *normalizer) resolve(path string) (model.ResolvedPath, bool, error) {
	return resolver.Resolve(n.fsys, n.plan.Root, path, n.ropts)
}

// dirExists reports whether dir is already present or has been scheduled
// to exist by an op already appended to the stream.
func (n *normalizer) dirExists(dir string) bool {
	if _, ok := n.scheduled[dir]; ok {
		return true
	}
	return n.shadow.Exists(n.fsys, dir)
}

// ensureParents injects Mkdir ops (shallowest first) for every missing
// ancestor of dir, when parents is true. It does nothing if dir already
// exists or is already scheduled.
func (n *normalizer) ensureParents(dir string, parents bool) error {
	if n.dirExists(dir) {
		return nil
	}
	if !parents {
		return model.NewError(model.ErrPolicyViolation, dir, nil)
	}

	var missing []string
	cur := dir
	for cur != n.root && !n.dirExists(cur) {
		missing = append(missing, cur)
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	for i := len(missing) - 1; i >= 0; i-- {
		d := missing[i]
		rp, _, err := n.resolve(d)
		if err != nil {
			return err
		}
		n.ops = append(n.ops, model.NormalizedOp{
			OpID:    n.nextOpID(),
			Kind:    model.OpMkdir,
			Dst:     rp,
			Parents: true,
			Implied: true,
		})
		n.scheduled[d] = struct{}{}
	}
	return nil
}

func (n *normalizer) add(raw model.RawOperation) error {
	switch raw.Kind {
	case model.OpMkdir:
		return n.addMkdir(raw)
	case model.OpMove:
		return n.addMoveLike(raw, model.OpMove, false)
	case model.OpCopy:
		return n.addMoveLike(raw, model.OpCopy, false)
	case model.OpRename:
		return n.addMoveLike(raw, model.OpRename, true)
	case model.OpTrash:
		return n.addTrash(raw)
	default:
		return model.NewError(model.ErrStructurallyInvalid, string(raw.Kind), nil)
	}
}

func (n *normalizer) addMkdir(raw model.RawOperation) error {
	if raw.Src != "" {
		return model.NewError(model.ErrStructurallyInvalid, "mkdir must not set src", nil)
	}
	if raw.Dst == "" {
		return model.NewError(model.ErrStructurallyInvalid, "mkdir requires dst", nil)
	}

	dst, skipped, err := n.resolve(raw.Dst)
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}

	if err := n.ensureParents(filepath.Dir(dst.Canonical), raw.Parents); err != nil {
		return err
	}

	n.ops = append(n.ops, model.NormalizedOp{
		OpID:    n.nextOpID(),
		Kind:    model.OpMkdir,
		Dst:     dst,
		Parents: raw.Parents,
	})
	n.scheduled[dst.Canonical] = struct{}{}
	return nil
}

func (n *normalizer) addMoveLike(raw model.RawOperation, kind model.OpKind, requireSameParent bool) error {
	if raw.Src == "" || raw.Dst == "" {
		return model.NewError(model.ErrStructurallyInvalid, string(kind)+" requires both src and dst", nil)
	}

	src, srcSkipped, err := n.resolve(raw.Src)
	if err != nil {
		return err
	}
	dst, dstSkipped, err := n.resolve(raw.Dst)
	if err != nil {
		return err
	}
	if srcSkipped || dstSkipped {
		return nil
	}

	if src.Canonical == dst.Canonical {
		return model.NewError(model.ErrStructurallyInvalid, "src and dst resolve to the same path", nil)
	}

	if requireSameParent && filepath.Dir(src.Canonical) != filepath.Dir(dst.Canonical) {
		return model.NewError(model.ErrStructurallyInvalid, "rename requires src and dst to share a parent", nil)
	}

	if err := n.ensureParents(filepath.Dir(dst.Canonical), raw.Parents); err != nil {
		return err
	}

	n.ops = append(n.ops, model.NormalizedOp{
		OpID: n.nextOpID(),
		Kind: kind,
		Src:  src,
		Dst:  dst,
	})
	n.scheduled[dst.Canonical] = struct{}{}
	return nil
}

func (n *normalizer) addTrash(raw model.RawOperation) error {
	if raw.Src == "" {
		return model.NewError(model.ErrStructurallyInvalid, "trash requires src", nil)
	}
	if raw.Dst != "" {
		return model.NewError(model.ErrStructurallyInvalid, "trash must not set dst", nil)
	}

	src, skipped, err := n.resolve(raw.Src)
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}

	trashRoot := filepath.Join(n.root, model.TrashDirName)
	if err := n.ensureParents(trashRoot, true); err != nil {
		return err
	}
	// The per-op directory's mkdir always comes next, so the trash op sits one past it.
	opID := n.nextOpID() + 1
	trashDir := filepath.Join(trashRoot, strconv.Itoa(opID))
	trashPath := filepath.Join(trashDir, filepath.Base(src.Canonical))

	dst, dstSkipped, err := n.resolve(trashPath)
	if err != nil {
		return model.NewError(model.ErrPolicyViolation, "trash quarantine directory not resolvable inside root", err)
	}
	if dstSkipped {
		return model.NewError(model.ErrPolicyViolation, "trash quarantine directory blocked by symlink policy", nil)
	}

	dir := model.ResolvedPath{RootRelative: filepath.Dir(dst.RootRelative), Canonical: filepath.Dir(dst.Canonical)}
	n.ops = append(n.ops, model.NormalizedOp{OpID: n.nextOpID(), Kind: model.OpMkdir, Dst: dir, Parents: true, Implied: true})
	n.scheduled[dir.Canonical] = struct{}{}

	n.ops = append(n.ops, model.NormalizedOp{
		OpID: opID,
		Kind: model.OpTrash,
		Src:  src,
		Dst:  dst,
	})
	n.scheduled[dst.Canonical] = struct{}{}
	return nil
}
