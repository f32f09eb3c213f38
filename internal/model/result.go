package model

// Phase is the Transaction Manager's per-run ledger phase (§3).
type Phase string

const (
	PhasePreflight   Phase = "preflight"
	PhaseExecuting   Phase = "executing"
	PhaseCommitted   Phase = "committed"
	PhaseRollingBack Phase = "rolling_back"
	PhaseAborted     Phase = "aborted"
)

// RollbackOutcome distinguishes a clean reversal from a partial one when a
// run ends aborted (§7, Aborted{cause, rollback_outcome}).
type RollbackOutcome string

const (
	RollbackNone    RollbackOutcome = ""
	RollbackClean   RollbackOutcome = "clean"
	RollbackPartial RollbackOutcome = "partial"
)

// Result is what a Run (or Undo) invocation returns to its caller.
type Result struct {
	RunID           string
	Phase           Phase
	Applied         []NormalizedOp
	FailedOpID      int // 0 if nothing failed
	RollbackOutcome RollbackOutcome
	Err             error
}

// Committed reports whether the run ended in PhaseCommitted.
func (r *Result) Committed() bool { return r.Phase == PhaseCommitted }
