package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mjansen/tfs/internal/txn"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a manifest's operations without executing or previewing them",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runTxn(txn.RunValidateOnly)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
