package exitcode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mjansen/tfs/internal/model"
)

func TestFromResult_Success(t *testing.T) {
	r := &model.Result{Phase: model.PhaseCommitted}
	require.Equal(t, Success, FromResult(r))
}

func TestFromResult_OperationalFailure(t *testing.T) {
	r := &model.Result{Phase: model.PhaseCommitted, Err: model.NewError(model.ErrSourceMissing, "x", nil)}
	require.Equal(t, OperationalFailure, FromResult(r))
}

func TestFromResult_PolicyFailure(t *testing.T) {
	// Matches what execute() actually produces for S2 (collision=fail on
	// the first/only op): nothing was applied, so rollback reports
	// RollbackNone rather than RollbackClean over an empty applied-list.
	r := &model.Result{
		Phase:           model.PhaseAborted,
		RollbackOutcome: model.RollbackNone,
		Err:             model.NewError(model.ErrDestinationExists, "x", nil),
	}
	require.Equal(t, PolicyFailure, FromResult(r))
}

func TestFromResult_TransactionalFailureOnRollback(t *testing.T) {
	r := &model.Result{
		Phase:           model.PhaseAborted,
		RollbackOutcome: model.RollbackClean,
		Err:             model.NewError(model.ErrSourceMissing, "x", nil),
	}
	require.Equal(t, TransactionalFailure, FromResult(r))
}

func TestFromResult_TransactionalFailureOnPartialRollback(t *testing.T) {
	r := &model.Result{
		Phase:           model.PhaseAborted,
		RollbackOutcome: model.RollbackPartial,
		Err:             model.NewError(model.ErrIO, "x", nil),
	}
	require.Equal(t, TransactionalFailure, FromResult(r))
}

func TestFromResult_NilResult(t *testing.T) {
	require.Equal(t, OperationalFailure, FromResult(nil))
}

func TestFromResult_UnwrappedErrorIsOperational(t *testing.T) {
	r := &model.Result{Phase: model.PhaseCommitted, Err: errPlain{}}
	require.Equal(t, OperationalFailure, FromResult(r))
}

type errPlain struct{}

func (errPlain) Error() string { return "boom" }
