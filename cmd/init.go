package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mjansen/tfs/internal/manifest"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a sample manifest file",
	RunE: func(_ *cobra.Command, _ []string) error {
		if _, err := os.Stat(manifestPath); err == nil {
			return fmt.Errorf("%s already exists; remove it first or edit it directly", manifestPath)
		}

		if err := os.WriteFile(manifestPath, []byte(manifest.SampleManifest()), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", manifestPath, err)
		}

		logger("Created %s — edit it to define your operations, then run 'tfs apply'.", manifestPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
