// Package exitcode maps a Result to the process exit code §6 defines,
// as a pure function so it's unit-testable without a subprocess.
package exitcode

import "github.com/mjansen/tfs/internal/model"

const (
	Success              = 0
	OperationalFailure   = 1
	PolicyFailure        = 2
	TransactionalFailure = 3
)

// FromResult implements §6's Result -> exit-code table.
func FromResult(result *model.Result) int {
	if result == nil {
		return OperationalFailure
	}

	// All-or-nothing aborted with rollback, clean or partial, takes
	// priority over the underlying cause's own classification: the run
	// ended transactionally, whatever triggered it.
	if result.Phase == model.PhaseAborted && result.RollbackOutcome != model.RollbackNone {
		return TransactionalFailure
	}

	if result.Err == nil {
		return Success
	}

	kind, ok := model.KindOf(result.Err)
	if !ok {
		return OperationalFailure
	}

	switch kind {
	case model.ErrIO, model.ErrPermissionDenied, model.ErrSourceMissing, model.ErrNotADirectory:
		return OperationalFailure
	case model.ErrPolicyViolation, model.ErrRootEscape, model.ErrSymlinkPolicy, model.ErrDestinationExists,
		model.ErrNonAbsoluteRoot, model.ErrInvalidPath, model.ErrStructurallyInvalid,
		model.ErrCrossDevice, model.ErrMaxBytesExceeded, model.ErrHashCollision:
		return PolicyFailure
	case model.ErrAborted:
		return TransactionalFailure
	default:
		return OperationalFailure
	}
}
