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
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Reverse a committed run from its journal alone",
	RunE: func(_ *cobra.Command, _ []string) error {
		jp := journalPath
		if jp == "" {
			plan, err := manifest.Load(manifestPath)
			if err != nil {
				return fmt.Errorf("loading manifest: %w", err)
			}
			jp = filepath.Join(plan.Root, ".tfs-journal")
		}

		fs := afero.NewOsFs()
		collector := &event.Collector{}
		result, err := txn.Undo(context.Background(), fs, jp, sinkFor(collector))
		if err != nil {
			return fmt.Errorf("undoing: %w", err)
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
	},
}

func init() {
	undoCmd.Flags().StringVar(&journalPath, "journal", "", "journal file path (default: <root>/.tfs-journal)")
	rootCmd.AddCommand(undoCmd)
}
