// Package report renders a Result (and, for the "agent" format, the
// event stream that produced it) for the CLI layer. The engine itself
// stays format-agnostic — it only emits event.Events — report is purely
// a presentation concern (§1, "Report formatting", out of scope for the
// engine but still needed somewhere for the CLI to print anything).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/mjansen/tfs/internal/event"
	"github.com/mjansen/tfs/internal/model"
)

// Format selects how a Result is rendered.
type Format string

const (
	FormatHuman Format = "human"
	FormatJSON  Format = "json"
	FormatAgent Format = "agent"
)

// summary is the JSON shape of the "json" format: a single object
// describing the whole run.
type summary struct {
	RunID           string             `json:"run_id"`
	Phase           model.Phase        `json:"phase"`
	Committed       bool               `json:"committed"`
	AppliedCount    int                `json:"applied_count"`
	FailedOpID      int                `json:"failed_op_id,omitempty"`
	RollbackOutcome model.RollbackOutcome `json:"rollback_outcome,omitempty"`
	Error           string             `json:"error,omitempty"`
	ExitCode        int                `json:"exit_code"`
}

// Print renders result (and, in "agent" format, events) to w.
func Print(w io.Writer, result *model.Result, events []event.Event, exitCode int, format Format) error {
	switch format {
	case FormatJSON:
		return printJSON(w, result, exitCode)
	case FormatAgent:
		return printAgent(w, events)
	case FormatHuman, "":
		return printHuman(w, result)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func toSummary(result *model.Result, exitCode int) summary {
	s := summary{
		RunID:           result.RunID,
		Phase:           result.Phase,
		Committed:       result.Committed(),
		AppliedCount:    len(result.Applied),
		FailedOpID:      result.FailedOpID,
		RollbackOutcome: result.RollbackOutcome,
		ExitCode:        exitCode,
	}
	if result.Err != nil {
		s.Error = result.Err.Error()
	}
	return s
}

func printJSON(w io.Writer, result *model.Result, exitCode int) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toSummary(result, exitCode))
}

// printAgent emits one JSON object per event, in emission order — a
// stream an agent or other tool can consume incrementally, as opposed
// to the "json" format's single end-of-run summary object.
func printAgent(w io.Writer, events []event.Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func printHuman(w io.Writer, result *model.Result) error {
	switch result.Phase {
	case model.PhaseCommitted:
		fmt.Fprintf(w, "committed: %d operation(s) applied\n", len(result.Applied))
	case model.PhasePreflight:
		if result.Err != nil {
			fmt.Fprintln(w, "stopped before execution, no operations executed")
		} else {
			fmt.Fprintln(w, "preflight ok, no operations executed")
		}
	case model.PhaseAborted:
		fmt.Fprintf(w, "aborted at op %d, rollback %s\n", result.FailedOpID, orNone(string(result.RollbackOutcome)))
	default:
		fmt.Fprintf(w, "%s\n", result.Phase)
	}

	if result.Err != nil {
		fmt.Fprintf(w, "error: %v\n", result.Err)
	}

	if len(result.Applied) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tOP_ID\tSRC\tDST")
	for _, op := range result.Applied {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", op.Kind, op.OpID, shortPath(op.Src.Canonical), shortPath(op.Dst.Canonical))
	}
	return tw.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// shortPath replaces the user's home directory prefix with ~, the same
// abbreviation the teacher's report table applies to every path column.
func shortPath(path string) string {
	if path == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(home, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.Join("~", rel)
}
