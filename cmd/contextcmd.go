package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/registry-tools/apicurio-sync/internal/contexts"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Work with registry contexts",
	Long: `Manipulate the local CLI context. A context names a registry URL and its
authentication credentials; the current context selects which registry a run
targets.`,
}

var contextCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := contextFilePath()
		if err != nil {
			return err
		}
		current, err := contexts.Resolve(path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), current.Name)
		return nil
	},
}

var contextInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an empty context file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := contextFilePath()
		if err != nil {
			return err
		}
		f := &contexts.File{}
		empty, err := contexts.LoadFile(path)
		if err == nil {
			f = empty
		}
		if err := f.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized context file at %s\n", path)
		return nil
	},
}

var contextSetCmd = &cobra.Command{
	Use:   "set [flags] NAME",
	Short: "Set context properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		rawURL, _ := cmd.Flags().GetString("url")
		current, _ := cmd.Flags().GetBool("current")

		path, err := contextFilePath()
		if err != nil {
			return err
		}
		f, err := contexts.LoadFile(path)
		if err != nil {
			return err
		}

		ctx, err := f.Get(name)
		if err != nil {
			if rawURL == "" {
				return fmt.Errorf("URL is required to create a new context")
			}
			ctx = contexts.Context{Name: name, Auth: contexts.Auth{Type: contexts.AuthNone}}
		}
		if rawURL != "" {
			u, err := url.Parse(rawURL)
			if err != nil {
				return fmt.Errorf("invalid registry url %q: %w", rawURL, err)
			}
			ctx.RegistryURL = u
		}

		f.Set(ctx, current)
		if err := f.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated context %s\n", name)
		return nil
	},
}

var contextShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print all context configurations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := contextFilePath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the CLI flag
		if err != nil {
			return fmt.Errorf("reading context file: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	contextSetCmd.Flags().StringP("url", "u", "", "the registry URL to set")
	contextSetCmd.Flags().BoolP("current", "c", false, "set this context as current")

	contextCmd.AddCommand(contextCurrentCmd)
	contextCmd.AddCommand(contextInitCmd)
	contextCmd.AddCommand(contextSetCmd)
	contextCmd.AddCommand(contextShowCmd)
	contextCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(contextCmd)
}
