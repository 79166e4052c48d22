package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the lockfile pins without touching the artifacts",
	Long: `Updates the project lockfile against the registry, re-resolving every pull
entry to its requested version (if specified) or the latest available
version. This is the only operation that advances an existing pin. Artifact
files are not modified; rerun 'sync' to download the newly pinned versions.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().Bool("no-cache", false,
		"bypass the registry metadata cache")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	noCache, _ := cmd.Flags().GetBool("no-cache")

	eng, m, lf, err := newEngine(noCache)
	if err != nil {
		return err
	}

	plan, err := eng.PlanUpdate(cmd.Context(), m, lf)
	if err != nil {
		return err
	}
	run, err := eng.Apply(cmd.Context(), plan, m, lf)
	if err != nil {
		return err
	}
	printResults(cmd, run)
	if run.Failed() {
		return fmt.Errorf("%d of %d entries failed", len(run.Errors()), len(run.Results))
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Lockfile updated. Rerun sync to update the artifacts.")
	return nil
}
