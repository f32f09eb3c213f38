package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mjansen/tfs/internal/txn"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Simulate a manifest's operations without touching the filesystem",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runTxn(txn.RunDryRun)
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
}
