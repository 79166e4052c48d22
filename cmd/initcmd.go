package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/registry-tools/apicurio-sync/internal/lockfile"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an empty manifest and lockfile",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := manifestPath()
	if err != nil {
		return err
	}
	if err := manifest.WriteEmpty(path); err != nil {
		return err
	}
	lf, err := lockfile.Load(lockfile.PathFor(path))
	if err != nil {
		return err
	}
	if err := lf.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty manifest at %s\n", path)
	return nil
}
