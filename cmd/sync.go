package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/registry-tools/apicurio-sync/internal/engine"
	"github.com/registry-tools/apicurio-sync/internal/log"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
	"github.com/registry-tools/apicurio-sync/internal/watcher"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize artifacts with the registry",
	Long: `Synchronizes artifacts with the registry. Push entries upload local files,
pull entries download the locked version into the local tree. Versions already
pinned in the lockfile are never advanced by sync; run 'update' for that.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("dry-run", false,
		"print the plan without applying it")
	syncCmd.Flags().Bool("watch", false,
		"keep running and re-sync when the manifest or push sources change")
	syncCmd.Flags().Bool("no-cache", false,
		"bypass the registry metadata cache")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	watch, _ := cmd.Flags().GetBool("watch")
	noCache, _ := cmd.Flags().GetBool("no-cache")

	provider, err := newTracing()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() { _ = provider.Shutdown(context.Background()) }()

	if err := syncOnce(ctx, cmd, dryRun, noCache); err != nil {
		if !watch {
			return err
		}
		// Watch mode keeps going after a failed run; the next change may fix it.
		fmt.Fprintf(cmd.ErrOrStderr(), "sync failed: %v\n", err)
	}
	if !watch || dryRun {
		return nil
	}
	return watchLoop(ctx, cmd, noCache)
}

// syncOnce loads the project fresh, plans, and applies (or prints the plan).
func syncOnce(ctx context.Context, cmd *cobra.Command, dryRun, noCache bool) error {
	eng, m, lf, err := newEngine(noCache)
	if err != nil {
		return err
	}

	plan, err := eng.Plan(ctx, m, lf)
	if err != nil {
		return err
	}

	if dryRun {
		printPlan(cmd, plan)
		return nil
	}

	run, err := eng.Apply(ctx, plan, m, lf)
	if err != nil {
		return err
	}
	printResults(cmd, run)
	if run.Failed() {
		return fmt.Errorf("%d of %d entries failed", len(run.Errors()), len(run.Results))
	}
	return nil
}

// watchLoop re-runs sync whenever a watched file changes, until interrupted.
func watchLoop(ctx context.Context, cmd *cobra.Command, noCache bool) error {
	mPath, err := manifestPath()
	if err != nil {
		return err
	}
	dir, err := workdir()
	if err != nil {
		return err
	}

	for {
		files := []string{mPath}
		if m, err := manifest.Load(mPath); err == nil {
			for _, entry := range m.Push {
				files = append(files, filepath.Join(dir, entry.Path))
			}
		}

		w, err := watcher.New(watcher.DefaultConfig(files))
		if err != nil {
			return err
		}
		changes, err := w.Start()
		if err != nil {
			_ = w.Stop()
			return err
		}

		select {
		case <-ctx.Done():
			_ = w.Stop()
			return nil
		case <-changes:
		}
		// Recreate the watcher each round: the manifest may have changed the
		// set of push sources.
		_ = w.Stop()

		log.Info(log.CatWatcher, "change detected, re-syncing")
		if err := syncOnce(ctx, cmd, false, noCache); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "sync failed: %v\n", err)
		}
	}
}

func printPlan(cmd *cobra.Command, plan *engine.SyncPlan) {
	out := cmd.OutOrStdout()
	for _, entry := range plan.Entries {
		switch {
		case entry.ResolveErr != nil:
			fmt.Fprintf(out, "%-6s %s: unresolved: %v\n", entry.Action, entry.Ref, entry.ResolveErr)
		case entry.Version != "":
			fmt.Fprintf(out, "%-6s %s@%s -> %s\n", entry.Action, entry.Ref, entry.Version, entry.Path)
		default:
			fmt.Fprintf(out, "%-6s %s <- %s\n", entry.Action, entry.Ref, entry.Path)
		}
	}
}

func printResults(cmd *cobra.Command, run engine.RunResult) {
	out := cmd.OutOrStdout()
	for _, res := range run.Results {
		if res.Err != nil {
			fmt.Fprintf(out, "%-10s %s (%s): %v\n", res.Status, res.Ref, res.Direction, res.Err.Cause)
			continue
		}
		if res.Version != "" {
			fmt.Fprintf(out, "%-10s %s@%s\n", res.Status, res.Ref, res.Version)
		} else {
			fmt.Fprintf(out, "%-10s %s\n", res.Status, res.Ref)
		}
	}
}
