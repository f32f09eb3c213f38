package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mjansen/tfs/internal/event"
	"github.com/mjansen/tfs/internal/exitcode"
	"github.com/mjansen/tfs/internal/manifest"
	"github.com/mjansen/tfs/internal/report"
	"github.com/mjansen/tfs/internal/txn"
	"github.com/mjansen/tfs/internal/validator"
)

var journalPath string

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Execute a manifest's operations as a single transaction",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runTxn(txn.RunExecute)
	},
}

func init() {
	applyCmd.Flags().StringVar(&journalPath, "journal", "", "journal file path (default: <root>/.tfs-journal)")
	rootCmd.AddCommand(applyCmd)
}

// runTxn loads the manifest, normalizes it, and drives it through the
// Transaction Manager in mode, printing a report and setting exitCode
// from the result. It is shared by apply, preview, and validate — they
// differ only in the RunMode they pass.
func runTxn(mode txn.RunMode) error {
	plan, err := manifest.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	fs := afero.NewOsFs()
	stream, err := validator.Normalize(plan, fs)
	if err != nil {
		return fmt.Errorf("validating manifest: %w", err)
	}

	jp := journalPath
	if jp == "" {
		jp = filepath.Join(plan.Root, ".tfs-journal")
	}

	collector := &event.Collector{}
	result, runErr := txn.Run(context.Background(), fs, stream, txn.Options{
		Mode:        mode,
		JournalPath: jp,
		Sink:        sinkFor(collector),
	})
	if runErr != nil {
		return fmt.Errorf("running transaction: %w", runErr)
	}

	exitCode = exitcode.FromResult(result)
	if !quiet {
		if err := report.Print(os.Stdout, result, collector.Events, exitCode, report.Format(formatFlag)); err != nil {
			return err
		}
	}
	if result.Err != nil {
		return result.Err
	}
	return nil
}
