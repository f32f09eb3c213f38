package txn

import "github.com/mjansen/tfs/internal/model"

// Reverse synthesizes the operation(s) that undo effect, per the table in
// §4.E. It is a pure function over model.Effect: it touches no
// filesystem and makes no decision that depends on current state (e.g.
// "is the directory still empty" is decided by the executor's OpRemove
// handler at execution time, not here).
//
// Copied{overwrote=true} reverses in two steps (delete, then restore the
// backup) because a single Move onto a path that still holds the copy's
// overwritten content would itself collide; every other effect reverses
// in one.
func Reverse(effect model.Effect) ([]model.NormalizedOp, error) {
	switch effect.Kind {
	case model.EffectMovedSameDevice, model.EffectMovedCrossDevice, model.EffectTrashed:
		return []model.NormalizedOp{{
			Kind: model.OpMove,
			Src:  model.ResolvedPath{Canonical: effect.To},
			Dst:  model.ResolvedPath{Canonical: effect.From},
		}}, nil

	case model.EffectCopied:
		if effect.Overwrote && effect.Backup != "" {
			return []model.NormalizedOp{
				{Kind: model.OpRemove, Dst: model.ResolvedPath{Canonical: effect.To}},
				{Kind: model.OpMove, Src: model.ResolvedPath{Canonical: effect.Backup}, Dst: model.ResolvedPath{Canonical: effect.To}},
			}, nil
		}
		return []model.NormalizedOp{{Kind: model.OpRemove, Dst: model.ResolvedPath{Canonical: effect.To}}}, nil

	case model.EffectMkdirCreated:
		return []model.NormalizedOp{{Kind: model.OpRemove, Dst: model.ResolvedPath{Canonical: effect.At}}}, nil

	case model.EffectMkdirExisted:
		return []model.NormalizedOp{{Kind: model.OpNoop}}, nil

	default:
		return nil, model.NewError(model.ErrPolicyViolation, "no reverse defined for effect kind "+string(effect.Kind), nil)
	}
}
