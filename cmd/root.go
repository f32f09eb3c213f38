// Package cmd implements the tfs CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mjansen/tfs/internal/event"
)

var (
	manifestPath string
	verbose      bool
	quiet        bool
	formatFlag   string
	version      = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "tfs",
	Short: "A transactional filesystem operation engine",
	Long: "tfs executes a manifest of filesystem operations (mkdir, move, copy,\n" +
		"rename, trash) as a single transaction. Every step is journaled, so a\n" +
		"failure mid-run rolls back cleanly and a committed run can always be\n" +
		"reversed with 'tfs undo'.",
	Version: version,
}

// exitCode is set by whichever subcommand ran and read by main.go once
// Execute returns — cobra itself only distinguishes error/no-error, but
// §6 requires one of four distinct exit codes.
var exitCode int

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil && exitCode == 0 {
		exitCode = 1
	}
	return exitCode
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "tfs.yaml", "path to the manifest file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all non-error output")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "report format: human, json, or agent")
}

// logger prints a formatted message to stderr unless quiet mode is enabled.
func logger(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// sinkFor returns the event.Sink a subcommand should run with: collector
// always buffers the full stream for the end-of-run report, and --verbose
// additionally fans each event to stderr as it happens.
func sinkFor(collector *event.Collector) event.Sink {
	if !verbose {
		return collector
	}
	return event.MultiSink{collector, verboseSink{}}
}

// verboseSink prints each op/undo lifecycle event to stderr as it arrives,
// the live-progress behavior "--verbose" names.
type verboseSink struct{}

func (verboseSink) Emit(e event.Event) {
	switch e.Kind {
	case event.KindOpStarted:
		logger("  op %d: %s %s -> %s", e.OpID, e.OpKind, e.Src, e.Dst)
	case event.KindOpCompleted:
		logger("  op %d: ok", e.OpID)
	case event.KindOpFailed:
		logger("  op %d: failed (%s): %s", e.OpID, e.ErrKind, e.Message)
	case event.KindTxnAborted:
		logger("transaction aborted: %s", e.Message)
	case event.KindUndoOpStarted:
		logger("  undo op %d", e.OpID)
	case event.KindUndoOpFailed:
		logger("  undo op %d: failed: %s", e.OpID, e.Message)
	}
}
