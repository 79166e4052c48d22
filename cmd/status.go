package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/registry-tools/apicurio-sync/internal/engine"
	"github.com/registry-tools/apicurio-sync/internal/lockfile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state of every manifest entry",
	Long: `Compares every manifest entry against the lockfile and the local files,
without contacting the registry. Reports the pinned version and whether the
local content drifted from what was last synced.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	m, lf, err := loadProject()
	if err != nil {
		return err
	}
	dir, err := workdir()
	if err != nil {
		return err
	}
	// Status never talks to the registry; no client is needed.
	eng := engine.New(nil, dir)

	out := cmd.OutOrStdout()
	for _, state := range eng.Status(m, lf) {
		describe := "not yet synced"
		switch {
		case state.Locked && !state.Drifted:
			describe = fmt.Sprintf("in sync @%s", state.Version)
		case state.Locked && state.Direction == lockfile.DirectionPull:
			describe = fmt.Sprintf("stale, will pull @%s", state.Version)
		case state.Locked:
			describe = fmt.Sprintf("changed since last push (@%s)", state.Version)
		}
		fmt.Fprintf(out, "%-4s %-40s %s\n", state.Direction, state.Ref, describe)
	}
	return nil
}
