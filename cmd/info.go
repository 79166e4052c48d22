package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print registry information for debugging purposes",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	client, err := newRegistryClient(true)
	if err != nil {
		return err
	}
	info, err := client.SystemInfo(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:        %s\n", info.Name)
	fmt.Fprintf(out, "Description: %s\n", info.Description)
	fmt.Fprintf(out, "Version:     %s\n", info.Version)
	fmt.Fprintf(out, "Built on:    %s\n", info.BuiltOn)
	return nil
}
