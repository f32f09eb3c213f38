package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mjansen/tfs/internal/event"
	"github.com/mjansen/tfs/internal/exitcode"
	"github.com/mjansen/tfs/internal/journal"
	"github.com/mjansen/tfs/internal/model"
	"github.com/mjansen/tfs/internal/validator"
)

func mustNormalize(t *testing.T, plan *model.Plan, fs afero.Fs) *model.OpStream {
	t.Helper()
	stream, err := validator.Normalize(plan, fs)
	require.NoError(t, err)
	return stream
}

// S1 — happy path: mkdir then move into it.
func TestRun_MkdirThenMove(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("hello"), 0o640))

	plan := &model.Plan{
		Root:            "/t",
		TransactionMode: model.TransactionAll,
		CollisionPolicy: model.CollisionFail,
		SymlinkPolicy:   model.SymlinkFollow,
		Operations: []model.RawOperation{
			{Kind: model.OpMkdir, Dst: "/t/Docs"},
			{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/Docs/a.txt"},
		},
	}
	stream := mustNormalize(t, plan, fs)

	collector := &event.Collector{}
	journalPath := filepath.Join(t.TempDir(), "run.journal")
	result, err := Run(context.Background(), fs, stream, Options{Mode: RunExecute, JournalPath: journalPath, Sink: collector})
	require.NoError(t, err)
	require.True(t, result.Committed())

	info, statErr := fs.Stat("/t/Docs")
	require.NoError(t, statErr)
	require.True(t, info.IsDir())

	_, err = fs.Stat("/t/a.txt")
	require.Error(t, err)

	content, err := afero.ReadFile(fs, "/t/Docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	_, records, err := journal.Read(journalPath)
	require.NoError(t, err)
	require.Len(t, records, 4, "one start and one ok record per op")
	require.Equal(t, journal.PhaseOK, records[1].Phase)
	require.Equal(t, journal.PhaseOK, records[3].Phase)

	var sawCommitted bool
	for _, e := range collector.Events {
		if e.Kind == event.KindTxnCommitted {
			sawCommitted = true
		}
	}
	require.True(t, sawCommitted)
}

// S2 — collision under "fail" aborts before any mutation.
func TestRun_CollisionFailAborts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("a"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/t/b.txt", []byte("b"), 0o640))

	plan := &model.Plan{
		Root:            "/t",
		TransactionMode: model.TransactionAll,
		CollisionPolicy: model.CollisionFail,
		SymlinkPolicy:   model.SymlinkFollow,
		Operations: []model.RawOperation{
			{Kind: model.OpCopy, Src: "/t/a.txt", Dst: "/t/b.txt"},
		},
	}
	stream := mustNormalize(t, plan, fs)

	journalPath := filepath.Join(t.TempDir(), "run.journal")
	result, err := Run(context.Background(), fs, stream, Options{Mode: RunExecute, JournalPath: journalPath})
	require.NoError(t, err)
	require.Equal(t, model.PhaseAborted, result.Phase)

	content, err := afero.ReadFile(fs, "/t/b.txt")
	require.NoError(t, err)
	require.Equal(t, "b", string(content), "destination must be untouched after a fail-policy collision")

	kind, ok := model.KindOf(result.Err)
	require.True(t, ok)
	require.Equal(t, model.ErrDestinationExists, kind)

	require.Equal(t, model.RollbackNone, result.RollbackOutcome, "nothing was applied, so there was nothing to roll back")
	require.Equal(t, exitcode.PolicyFailure, exitcode.FromResult(result), "S2 must exit as a policy failure, not a transactional one")
}

// S4 — mid-stream failure rolls back already-applied ops in reverse order.
func TestRun_RollbackAfterMidStreamFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a", []byte("A"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/t/b", []byte("B"), 0o640))

	plan := &model.Plan{
		Root:            "/t",
		TransactionMode: model.TransactionAll,
		CollisionPolicy: model.CollisionFail,
		SymlinkPolicy:   model.SymlinkFollow,
		Operations: []model.RawOperation{
			{Kind: model.OpMove, Src: "/t/a", Dst: "/t/x"},
			{Kind: model.OpMove, Src: "/t/b", Dst: "/t/y"},
			{Kind: model.OpMove, Src: "/t/missing", Dst: "/t/z"},
		},
	}
	stream := mustNormalize(t, plan, fs)

	journalPath := filepath.Join(t.TempDir(), "run.journal")
	result, err := Run(context.Background(), fs, stream, Options{Mode: RunExecute, JournalPath: journalPath})
	require.NoError(t, err)
	require.Equal(t, model.PhaseAborted, result.Phase)
	require.Equal(t, model.RollbackClean, result.RollbackOutcome)
	require.Equal(t, 3, result.FailedOpID)

	for _, p := range []string{"/t/x", "/t/y", "/t/z"} {
		_, err := fs.Stat(p)
		require.Error(t, err, "%s must not exist after rollback", p)
	}
	for _, p := range []string{"/t/a", "/t/b"} {
		_, err := fs.Stat(p)
		require.NoError(t, err, "%s must be restored after rollback", p)
	}

	_, records, err := journal.Read(journalPath)
	require.NoError(t, err)

	var undone []int
	for _, rec := range records {
		if rec.Phase == journal.PhaseUndone {
			undone = append(undone, rec.OpID)
		}
	}
	require.Equal(t, []int{2, 1}, undone, "rollback must reverse in descending op_id order")
}

// Per-op mode never rolls back; it records a failure and continues.
func TestRun_PerOpModeContinuesAfterFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a", []byte("A"), 0o640))
	require.NoError(t, afero.WriteFile(fs, "/t/b", []byte("B"), 0o640))

	plan := &model.Plan{
		Root:            "/t",
		TransactionMode: model.TransactionOp,
		CollisionPolicy: model.CollisionFail,
		SymlinkPolicy:   model.SymlinkFollow,
		Operations: []model.RawOperation{
			{Kind: model.OpMove, Src: "/t/missing", Dst: "/t/z"},
			{Kind: model.OpMove, Src: "/t/a", Dst: "/t/x"},
		},
	}
	stream := mustNormalize(t, plan, fs)

	journalPath := filepath.Join(t.TempDir(), "run.journal")
	result, err := Run(context.Background(), fs, stream, Options{Mode: RunExecute, JournalPath: journalPath})
	require.NoError(t, err)
	require.True(t, result.Committed(), "per-op mode always terminates committed, failures notwithstanding")
	require.Equal(t, 1, result.FailedOpID)

	_, err = fs.Stat("/t/x")
	require.NoError(t, err, "later ops still run after an earlier per-op failure")
}

// Undo reverses a committed run from its journal alone, in descending seq
// order, and is a no-op the second time.
func TestUndo_ReversesCommittedRunAndIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/t/a.txt", []byte("hello"), 0o640))

	plan := &model.Plan{
		Root:            "/t",
		TransactionMode: model.TransactionAll,
		CollisionPolicy: model.CollisionFail,
		SymlinkPolicy:   model.SymlinkFollow,
		Operations: []model.RawOperation{
			{Kind: model.OpMkdir, Dst: "/t/Docs"},
			{Kind: model.OpMove, Src: "/t/a.txt", Dst: "/t/Docs/a.txt"},
		},
	}
	stream := mustNormalize(t, plan, fs)

	journalPath := filepath.Join(t.TempDir(), "run.journal")
	result, err := Run(context.Background(), fs, stream, Options{Mode: RunExecute, JournalPath: journalPath})
	require.NoError(t, err)
	require.True(t, result.Committed())

	undoResult, err := Undo(context.Background(), fs, journalPath, nil)
	require.NoError(t, err)
	require.Equal(t, model.RollbackClean, undoResult.RollbackOutcome)

	_, err = fs.Stat("/t/Docs/a.txt")
	require.Error(t, err)
	content, err := afero.ReadFile(fs, "/t/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	again, err := Undo(context.Background(), fs, journalPath, nil)
	require.NoError(t, err)
	require.Equal(t, model.RollbackClean, again.RollbackOutcome)
}
