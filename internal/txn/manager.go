// Package txn implements the Transaction Manager (§4.E): orchestrating
// Preflight, Validate-only, Dry-run, Execute, Rollback and Terminate over
// a normalized OpStream, plus standalone undo from a journal alone.
package txn

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/mjansen/tfs/internal/event"
	"github.com/mjansen/tfs/internal/executor"
	"github.com/mjansen/tfs/internal/journal"
	"github.com/mjansen/tfs/internal/model"
)

// RunMode selects how far a Run invocation goes.
type RunMode string

const (
	// RunValidateOnly stops after Preflight: useful for linting a
	// manifest in CI without touching a filesystem.
	RunValidateOnly RunMode = "validate_only"
	// RunDryRun simulates every op against a copy-on-write shadow of fs,
	// so collisions resolve exactly as they would for real, with no
	// writes landing on fs itself.
	RunDryRun RunMode = "dry_run"
	// RunExecute performs the stream for real, journaling and rolling
	// back per stream.TransactionMode.
	RunExecute RunMode = "execute"
)

// Options configures a Run invocation.
type Options struct {
	Mode        RunMode
	JournalPath string // required when Mode == RunExecute
	Sink        event.Sink
}

// Run drives stream through the phases described in §4.E and returns the
// resulting Result. It never returns a non-nil error for a plan-level
// failure (those land in Result.Err so callers can inspect Phase/Applied
// alongside the cause) — a non-nil error return means either the journal
// itself could not be trusted (open/lock/I/O failure), which is fatal per
// §7, or opts.Mode is not a known RunMode.
func Run(ctx context.Context, fs afero.Fs, stream *model.OpStream, opts Options) (*model.Result, error) {
	sink := opts.Sink
	if sink == nil {
		sink = event.NopSink{}
	}

	runID := newRunID()

	if err := preflight(fs, stream); err != nil {
		return &model.Result{RunID: runID, Phase: model.PhasePreflight, Err: err}, nil
	}

	switch opts.Mode {
	case RunValidateOnly:
		sink.Emit(event.Event{Kind: event.KindPlanValidated, RunID: runID})
		return &model.Result{RunID: runID, Phase: model.PhasePreflight}, nil

	case RunDryRun:
		sink.Emit(event.Event{Kind: event.KindPlanValidated, RunID: runID})
		return dryRun(fs, stream, sink, runID), nil

	case RunExecute:
		sink.Emit(event.Event{Kind: event.KindPlanValidated, RunID: runID})
		return execute(ctx, fs, stream, opts.JournalPath, sink, runID)

	default:
		return nil, model.NewError(model.ErrStructurallyInvalid, "unknown run mode "+string(opts.Mode), nil)
	}
}

// preflight performs the read-only precondition checks of §4.E phase 1.
//
// It deliberately does NOT hard-fail the whole run over a single op's
// missing source: the worked rollback scenario (a stream of three moves
// where the third's source never existed) requires ops 1 and 2 to
// actually commit before op 3 fails so there is something to roll back.
// A preflight that rejected the entire plan up front because op 3's
// source doesn't exist would mean nothing ever ran, contradicting that.
// So per-op source existence is left to the Executor at execution time,
// where a SourceMissing failure is journaled and handled like any other
// op failure. What preflight does check, cheaply and without per-op
// stats that execution will repeat: a Mkdir target that already exists
// but isn't a directory, and the plan's max_bytes budget.
func preflight(fs afero.Fs, stream *model.OpStream) error {
	var totalBytes int64
	for _, op := range stream.Ops {
		switch op.Kind {
		case model.OpMkdir:
			if info, err := fs.Stat(op.Dst.Canonical); err == nil && !info.IsDir() {
				return model.NewError(model.ErrNotADirectory, op.Dst.Canonical, nil)
			}
		case model.OpCopy:
			if info, err := fs.Stat(op.Src.Canonical); err == nil && !info.IsDir() {
				totalBytes += info.Size()
			}
		}
	}
	if stream.MaxBytes > 0 && totalBytes > stream.MaxBytes {
		return model.NewError(model.ErrMaxBytesExceeded,
			fmt.Sprintf("plan would copy %d bytes, limit is %d", totalBytes, stream.MaxBytes), nil)
	}
	return nil
}

// dryRun simulates stream against a copy-on-write overlay of fs: reads
// fall through to the real filesystem so collisions resolve against its
// actual contents, but every write lands in an in-memory layer that is
// discarded when dryRun returns (§4.E phase 3, "no writes occur").
func dryRun(fs afero.Fs, stream *model.OpStream, sink event.Sink, runID string) *model.Result {
	shadow := afero.NewCopyOnWriteFs(fs, afero.NewMemMapFs())
	ex := executor.New(shadow)

	for _, op := range stream.Ops {
		effect, err := ex.Execute(op, stream.CollisionPolicy, stream.ForbidCrossDevice)
		if err != nil {
			return &model.Result{RunID: runID, Phase: model.PhasePreflight, FailedOpID: op.OpID, Err: err}
		}
		sink.Emit(event.Event{
			Kind: event.KindOpPlanned, RunID: runID, OpID: op.OpID, OpKind: op.Kind,
			Src: op.Src.Canonical, Dst: destinationOf(effect), Effect: &effect,
		})
	}

	return &model.Result{RunID: runID, Phase: model.PhasePreflight}
}

func destinationOf(e model.Effect) string {
	switch e.Kind {
	case model.EffectMkdirCreated, model.EffectMkdirExisted:
		return e.At
	default:
		return e.To
	}
}

// execute performs §4.E phases 4–6 for real: journal + event per op,
// rollback on failure in all-or-nothing mode, per-op mode recording
// failures but always advancing.
func execute(ctx context.Context, fs afero.Fs, stream *model.OpStream, journalPath string, sink event.Sink, runID string) (*model.Result, error) {
	w, err := journal.Create(journalPath, runID)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	ex := executor.New(fs)
	applied := make([]model.NormalizedOp, 0, len(stream.Ops))
	effects := make(map[int]model.Effect, len(stream.Ops))

	var failedOpID int
	var runErr error
	cancelled := false

	for _, op := range stream.Ops {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		sink.Emit(event.Event{Kind: event.KindOpStarted, RunID: runID, OpID: op.OpID, OpKind: op.Kind, Src: op.Src.Canonical, Dst: op.Dst.Canonical})
		if _, jerr := w.Append(journal.Record{OpID: op.OpID, Phase: journal.PhaseStart, OpKind: op.Kind, Src: op.Src.Canonical, Dst: op.Dst.Canonical}); jerr != nil {
			return nil, jerr
		}

		effect, opErr := ex.Execute(op, stream.CollisionPolicy, stream.ForbidCrossDevice)
		if opErr == nil {
			if _, jerr := w.Append(journal.Record{OpID: op.OpID, Phase: journal.PhaseOK, OpKind: op.Kind, Src: op.Src.Canonical, Dst: destinationOf(effect), Effect: &effect}); jerr != nil {
				return nil, jerr
			}
			sink.Emit(event.Event{Kind: event.KindOpCompleted, RunID: runID, OpID: op.OpID, OpKind: op.Kind, Effect: &effect})
			applied = append(applied, op)
			effects[op.OpID] = effect
			continue
		}

		kind, _ := model.KindOf(opErr)
		if _, jerr := w.Append(journal.Record{OpID: op.OpID, Phase: journal.PhaseFail, OpKind: op.Kind, Src: op.Src.Canonical, Dst: op.Dst.Canonical, ErrorKind: kind, Message: opErr.Error()}); jerr != nil {
			return nil, jerr
		}
		sink.Emit(event.Event{Kind: event.KindOpFailed, RunID: runID, OpID: op.OpID, OpKind: op.Kind, ErrKind: kind, Message: opErr.Error()})

		failedOpID = op.OpID
		runErr = opErr

		if stream.TransactionMode == model.TransactionOp {
			continue
		}
		break
	}

	if cancelled && runErr == nil {
		runErr = model.NewError(model.ErrAborted, "run cancelled", ctx.Err())
	}

	// Per-op mode never rolls back (§3, "no rollback occurs"); its
	// terminal event is always txn_committed, with any per-op failure
	// already recorded individually via op_failed above.
	if stream.TransactionMode == model.TransactionAll && (failedOpID != 0 || cancelled) {
		outcome, rbErr := rollback(ex, applied, effects, w, sink, runID)
		msg := ""
		if runErr != nil {
			msg = runErr.Error()
		}
		sink.Emit(event.Event{Kind: event.KindTxnAborted, RunID: runID, Message: msg})
		combined := runErr
		if rbErr != nil {
			combined = model.NewError(model.ErrAborted, "rollback", multierror.Append(asMultierror(runErr), rbErr))
		}
		return &model.Result{
			RunID: runID, Phase: model.PhaseAborted, Applied: applied,
			FailedOpID: failedOpID, RollbackOutcome: outcome, Err: combined,
		}, nil
	}

	sink.Emit(event.Event{Kind: event.KindTxnCommitted, RunID: runID})
	return &model.Result{RunID: runID, Phase: model.PhaseCommitted, Applied: applied, FailedOpID: failedOpID, Err: runErr}, nil
}

func asMultierror(err error) *multierror.Error {
	if err == nil {
		return &multierror.Error{}
	}
	return multierror.Append(&multierror.Error{}, err)
}

// rollback walks applied in reverse, synthesizing and executing the
// reverse of each op's effect, appending `undone`/`fail` records as it
// goes. Failed reverse operations accumulate but never stop the walk
// (§4.E phase 5, §7); a failed journal append ends it.
func rollback(ex *executor.Executor, applied []model.NormalizedOp, effects map[int]model.Effect, w *journal.Writer, sink event.Sink, runID string) (model.RollbackOutcome, error) {
	// Nothing committed before the failure (e.g. the first op in the
	// stream failed its precondition): there is nothing to reverse, so
	// this abort is a policy/validation rejection, not a transactional
	// rollback. Reporting RollbackClean here would misclassify S2-style
	// failures as TransactionalFailure instead of the error's own kind.
	if len(applied) == 0 {
		return model.RollbackNone, nil
	}

	sink.Emit(event.Event{Kind: event.KindUndoStarted, RunID: runID})

	var merr *multierror.Error
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		effect := effects[op.OpID]

		sink.Emit(event.Event{Kind: event.KindUndoOpStarted, RunID: runID, OpID: op.OpID})

		reverseOps, err := Reverse(effect)
		if err != nil {
			merr = multierror.Append(merr, err)
			sink.Emit(event.Event{Kind: event.KindUndoOpFailed, RunID: runID, OpID: op.OpID, Message: err.Error()})
			continue
		}

		var stepErr error
		for _, rOp := range reverseOps {
			if _, err := ex.Execute(rOp, model.CollisionFail, false); err != nil {
				stepErr = err
				break
			}
		}

		if stepErr != nil {
			kind, _ := model.KindOf(stepErr)
			if _, jerr := w.Append(journal.Record{OpID: op.OpID, Phase: journal.PhaseFail, ErrorKind: kind, Message: stepErr.Error()}); jerr != nil {
				merr = multierror.Append(merr, jerr)
				break
			}
			sink.Emit(event.Event{Kind: event.KindUndoOpFailed, RunID: runID, OpID: op.OpID, ErrKind: kind, Message: stepErr.Error()})
			merr = multierror.Append(merr, stepErr)
			continue
		}

		if _, jerr := w.Append(journal.Record{OpID: op.OpID, Phase: journal.PhaseUndone}); jerr != nil {
			merr = multierror.Append(merr, jerr)
			break
		}
		sink.Emit(event.Event{Kind: event.KindUndoOpDone, RunID: runID, OpID: op.OpID})
	}

	sink.Emit(event.Event{Kind: event.KindUndoCompleted, RunID: runID})

	if err := merr.ErrorOrNil(); err != nil {
		return model.RollbackPartial, err
	}
	return model.RollbackClean, nil
}

// Undo performs standalone reversal from a journal alone (no plan): every
// `ok` record with no matching `undone`, reversed in descending seq order
// (§4.E). It is idempotent — re-running Undo against an already fully
// undone journal reverses nothing.
func Undo(ctx context.Context, fs afero.Fs, journalPath string, sink event.Sink) (*model.Result, error) {
	if sink == nil {
		sink = event.NopSink{}
	}

	hdr, records, err := journal.Read(journalPath)
	if err != nil {
		return nil, err
	}

	undone := make(map[int]bool)
	okByOpID := make(map[int]journal.Record)
	lastSeq := 0
	for _, rec := range records {
		if rec.Seq > lastSeq {
			lastSeq = rec.Seq
		}
		switch rec.Phase {
		case journal.PhaseOK:
			okByOpID[rec.OpID] = rec
		case journal.PhaseUndone:
			undone[rec.OpID] = true
		}
	}

	pending := make([]journal.Record, 0, len(okByOpID))
	for opID, rec := range okByOpID {
		if !undone[opID] {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq > pending[j].Seq })

	w, err := journal.OpenAppend(journalPath, lastSeq)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	ex := executor.New(fs)
	runID := hdr.RunID
	sink.Emit(event.Event{Kind: event.KindUndoStarted, RunID: runID})

	var merr *multierror.Error
	for _, rec := range pending {
		select {
		case <-ctx.Done():
			merr = multierror.Append(merr, model.NewError(model.ErrAborted, "undo cancelled", ctx.Err()))
			break
		default:
		}
		if ctx.Err() != nil {
			break
		}

		if rec.Effect == nil {
			merr = multierror.Append(merr, model.NewError(model.ErrPolicyViolation,
				fmt.Sprintf("op %d: ok record missing effect", rec.OpID), nil))
			continue
		}

		sink.Emit(event.Event{Kind: event.KindUndoOpStarted, RunID: runID, OpID: rec.OpID})

		reverseOps, rerr := Reverse(*rec.Effect)
		if rerr != nil {
			merr = multierror.Append(merr, rerr)
			sink.Emit(event.Event{Kind: event.KindUndoOpFailed, RunID: runID, OpID: rec.OpID, Message: rerr.Error()})
			continue
		}

		var stepErr error
		for _, rOp := range reverseOps {
			if _, err := ex.Execute(rOp, model.CollisionFail, false); err != nil {
				stepErr = err
				break
			}
		}

		if stepErr != nil {
			kind, _ := model.KindOf(stepErr)
			if _, jerr := w.Append(journal.Record{OpID: rec.OpID, Phase: journal.PhaseFail, ErrorKind: kind, Message: stepErr.Error()}); jerr != nil {
				merr = multierror.Append(merr, jerr)
				break
			}
			sink.Emit(event.Event{Kind: event.KindUndoOpFailed, RunID: runID, OpID: rec.OpID, ErrKind: kind, Message: stepErr.Error()})
			merr = multierror.Append(merr, stepErr)
			continue
		}

		if _, jerr := w.Append(journal.Record{OpID: rec.OpID, Phase: journal.PhaseUndone}); jerr != nil {
			merr = multierror.Append(merr, jerr)
			break
		}
		sink.Emit(event.Event{Kind: event.KindUndoOpDone, RunID: runID, OpID: rec.OpID})
	}

	sink.Emit(event.Event{Kind: event.KindUndoCompleted, RunID: runID})

	outcome := model.RollbackClean
	var resErr error
	if err := merr.ErrorOrNil(); err != nil {
		outcome = model.RollbackPartial
		resErr = err
	}
	return &model.Result{RunID: runID, Phase: model.PhaseAborted, RollbackOutcome: outcome, Err: resErr}, nil
}

// newRunID mints a traceability-only run identifier; it never substitutes
// for the journal's seq counter (§4.E).
func newRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
