// Package cmd wires the CLI surface: flag parsing, context resolution, and
// construction of the engine. All reconciliation logic lives in
// internal/engine; commands only assemble collaborators and print results.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/registry-tools/apicurio-sync/internal/auth"
	"github.com/registry-tools/apicurio-sync/internal/contexts"
	"github.com/registry-tools/apicurio-sync/internal/engine"
	"github.com/registry-tools/apicurio-sync/internal/lockfile"
	"github.com/registry-tools/apicurio-sync/internal/log"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
	"github.com/registry-tools/apicurio-sync/internal/registry"
	"github.com/registry-tools/apicurio-sync/internal/tracing"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "apicurio-sync",
	Short: "Synchronize schema artifacts between a registry and the local tree",
	Long: `apicurio-sync reconciles artifacts between an Apicurio registry and the
local filesystem, driven by a declarative manifest (apicurio-sync.yaml) and a
lockfile that pins resolved versions between runs.

Running without a subcommand is equivalent to 'apicurio-sync sync'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runSync,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config-file", "f", manifest.DefaultFilename,
		"the manifest file to use")
	rootCmd.PersistentFlags().String("context-file", "",
		"the context file to use (default: ~/.config/apicurio-sync/contexts.yaml)")
	rootCmd.PersistentFlags().String("cwd", "",
		"the working directory; every operation happens inside it (default: current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false,
		"print debug logs to stderr")
	rootCmd.PersistentFlags().Bool("trace", false,
		"enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().String("trace-exporter", "file",
		"trace exporter: none, file, stdout, otlp")

	_ = viper.BindPFlag("config_file", rootCmd.PersistentFlags().Lookup("config-file"))
	_ = viper.BindPFlag("context_file", rootCmd.PersistentFlags().Lookup("context-file"))
	_ = viper.BindPFlag("cwd", rootCmd.PersistentFlags().Lookup("cwd"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("trace.enabled", rootCmd.PersistentFlags().Lookup("trace"))
	_ = viper.BindPFlag("trace.exporter", rootCmd.PersistentFlags().Lookup("trace-exporter"))

	// APICURIO_SYNC_CONFIG_FILE, APICURIO_SYNC_CWD, APICURIO_SYNC_DEBUG, ...
	viper.SetEnvPrefix("APICURIO_SYNC")
	viper.AutomaticEnv()
	_ = viper.BindEnv("cwd", "APICURIO_SYNC_WORKDIR")
}

func initConfig() {
	if viper.GetBool("debug") {
		log.InitStderr()
		log.SetEnabled(true)
	}
}

// workdir resolves the effective working directory.
func workdir() (string, error) {
	if dir := viper.GetString("cwd"); dir != "" {
		return dir, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return dir, nil
}

// manifestPath resolves the manifest location inside the working directory.
func manifestPath() (string, error) {
	dir, err := workdir()
	if err != nil {
		return "", err
	}
	name := viper.GetString("config_file")
	if name == "" {
		name = manifest.DefaultFilename
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	return filepath.Join(dir, name), nil
}

// contextFilePath resolves the context store location.
func contextFilePath() (string, error) {
	if path := viper.GetString("context_file"); path != "" {
		return path, nil
	}
	return contexts.DefaultPath()
}

// loadProject loads the manifest and its lockfile.
func loadProject() (*manifest.Manifest, *lockfile.Lockfile, error) {
	mPath, err := manifestPath()
	if err != nil {
		return nil, nil, err
	}
	m, err := manifest.Load(mPath)
	if err != nil {
		return nil, nil, err
	}
	lf, err := lockfile.Load(lockfile.PathFor(mPath))
	if err != nil {
		return nil, nil, err
	}
	return m, lf, nil
}

// newRegistryClient resolves the current context and builds the registry
// client for it. Refreshed OIDC tokens are written back to the context file
// so the next run does not need to refresh again.
func newRegistryClient(skipCache bool) (registry.Client, error) {
	ctxPath, err := contextFilePath()
	if err != nil {
		return nil, err
	}
	current, err := contexts.Resolve(ctxPath)
	if err != nil {
		return nil, err
	}
	log.Debug(log.CatContext, "using context", "name", current.Name, "url", current.RegistryURL)

	persist := func(updated contexts.Auth) {
		f, err := contexts.LoadFile(ctxPath)
		if err != nil {
			log.ErrorErr(log.CatAuth, "reloading context file after token refresh", err)
			return
		}
		ctx, err := f.Get(current.Name)
		if err != nil {
			return
		}
		ctx.Auth = updated
		f.Set(ctx, false)
		if err := f.Save(ctxPath); err != nil {
			log.ErrorErr(log.CatAuth, "persisting refreshed tokens", err)
		}
	}

	tokens := auth.TokenSourceFor(current.Auth, persist)
	var client registry.Client = registry.NewV2Client(current.RegistryURL, tokens)
	return registry.NewCachedClient(client, skipCache), nil
}

// newTracing builds the tracing provider from viper configuration.
func newTracing() (*tracing.Provider, error) {
	cfg := tracing.DefaultConfig()
	cfg.Enabled = viper.GetBool("trace.enabled")
	if exp := viper.GetString("trace.exporter"); exp != "" {
		cfg.Exporter = exp
	}
	if cfg.Enabled && cfg.Exporter == "file" && cfg.FilePath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolving trace file location: %w", err)
		}
		cfg.FilePath = filepath.Join(dir, "apicurio-sync", "traces", "traces.jsonl")
	}
	return tracing.NewProvider(cfg)
}

// newEngine assembles the engine and loads the project state.
func newEngine(skipCache bool) (*engine.Engine, *manifest.Manifest, *lockfile.Lockfile, error) {
	m, lf, err := loadProject()
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := newRegistryClient(skipCache)
	if err != nil {
		return nil, nil, nil, err
	}
	dir, err := workdir()
	if err != nil {
		return nil, nil, nil, err
	}
	return engine.New(client, dir), m, lf, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
