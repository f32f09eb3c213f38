package validator

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mjansen/tfs/internal/model"
)

func basePlan() *model.Plan {
	return &model.Plan{
		Root:            "/t",
		TransactionMode: model.TransactionAll,
		CollisionPolicy: model.CollisionFail,
		SymlinkPolicy:   model.SymlinkFollow,
	}
}

func TestNormalize_InjectsImpliedMkdirsShallowestFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/one/two/a.txt", Parents: true},
	}

	stream, err := Normalize(plan, fs)
	require.NoError(t, err)
	require.Len(t, stream.Ops, 3)

	require.Equal(t, model.OpMkdir, stream.Ops[0].Kind)
	require.True(t, stream.Ops[0].Implied)
	require.Equal(t, "/t/one", stream.Ops[0].Dst.Canonical)

	require.Equal(t, model.OpMkdir, stream.Ops[1].Kind)
	require.True(t, stream.Ops[1].Implied)
	require.Equal(t, "/t/one/two", stream.Ops[1].Dst.Canonical)

	require.Equal(t, model.OpMove, stream.Ops[2].Kind)
	require.Equal(t, "/t/one/two/a.txt", stream.Ops[2].Dst.Canonical)

	for i, op := range stream.Ops {
		require.Equal(t, i+1, op.OpID)
	}
}

func TestNormalize_MissingParentWithoutParentsFlagIsPolicyViolation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/missing/a.txt", Parents: false},
	}

	_, err := Normalize(plan, fs)
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrPolicyViolation, kind)
}

func TestNormalize_RenameRequiresSameParent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))
	require.NoError(t, fs.MkdirAll("/t/sub", 0o750))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpRename, Src: "/t/a.txt", Dst: "/t/sub/b.txt"},
	}

	_, err := Normalize(plan, fs)
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrStructurallyInvalid, kind)
}

func TestNormalize_SameSrcDstIsStructurallyInvalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/a.txt"},
	}

	_, err := Normalize(plan, fs)
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrStructurallyInvalid, kind)
}

func TestNormalize_TrashSynthesizesQuarantinePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpTrash, Src: "/t/a.txt"},
	}

	stream, err := Normalize(plan, fs)
	require.NoError(t, err)

	var trashOp model.NormalizedOp
	for _, op := range stream.Ops {
		if op.Kind == model.OpTrash {
			trashOp = op
		}
	}
	require.Equal(t, "/t/a.txt", trashOp.Src.Canonical)
	// Ops 1 and 2 are the injected mkdirs for .tfs-trash and .tfs-trash/3;
	// the trash op is op 3, and its quarantine directory is named after it.
	require.Equal(t, 3, trashOp.OpID)
	wantDst := filepath.Join("/t", model.TrashDirName, "3", "a.txt")
	require.Equal(t, wantDst, trashOp.Dst.Canonical)
}

func TestNormalize_OverwriteWithBackupRequiresAllowOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	plan := basePlan()
	plan.CollisionPolicy = model.CollisionOverwriteWithBackup
	plan.AllowOverwrite = false

	_, err := Normalize(plan, fs)
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrPolicyViolation, kind)
}

func TestNormalize_MkdirStructurallyRejectsSrc(t *testing.T) {
	fs := afero.NewMemMapFs()
	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpMkdir, Src: "/t/a", Dst: "/t/b"},
	}

	_, err := Normalize(plan, fs)
	kind, ok := model.KindOf(err)
	require.True(t, ok)
	require.Equal(t, model.ErrStructurallyInvalid, kind)
}

func TestNormalize_ScheduledDirCountsAsExistingForLaterOps(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/t/b.txt", []byte("y"), 0o640))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpMkdir, Dst: "/t/Docs"},
		{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/Docs/a.txt"},
		{Kind: model.OpMove, Src: "/t/b.txt", Dst: "/t/Docs/b.txt"},
	}

	stream, err := Normalize(plan, fs)
	require.NoError(t, err)
	// One mkdir (explicit) + two moves, no duplicate implied mkdir for
	// the already-scheduled /t/Docs.
	require.Len(t, stream.Ops, 3)
}

func TestNormalize_IsDeterministicAcrossRepeatedCalls(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("x"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/t/b.txt", []byte("y"), 0o640))

	plan := basePlan()
	plan.Operations = []model.RawOperation{
		{Kind: model.OpMkdir, Dst: "/t/one/two", Parents: true},
		{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/one/two/a.txt"},
		{Kind: model.OpCopy, Src: "/t/b.txt", Dst: "/t/one/b.txt"},
	}

	first, err := Normalize(plan, fs)
	require.NoError(t, err)
	second, err := Normalize(plan, fs)
	require.NoError(t, err)

	// Normalize is a pure function of the Plan and the filesystem's
	// presence snapshot: running it twice against an unchanged
	// filesystem must produce byte-identical streams (§4.B
	// "Determinism"), not just streams that happen to satisfy the
	// individual field assertions above.
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Normalize is not deterministic (-first +second):\n%s", diff)
	}
}
