package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mercator-hq/beacon/pkg/cli"
	"mercator-hq/beacon/pkg/config"
)

var (
	// Global flags
	cfgFile   string
	dataDir   string
	outputFmt string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - in-process logs, APM events and crash reports",
	Long: `Beacon records business logs, performance events and crash reports to
local day files, prunes them by age and size, and applies configuration
changes to a running pipeline without a restart.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (defaults when empty)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "", "override storage root")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// setupLogging configures the internal diagnostics channel. Business logs
// are configured by the pipeline itself.
func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// loadBootstrap returns the file and environment configuration. It decides
// where the persisted configuration and the storage root live.
func loadBootstrap() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if dataDir != "" {
		cfg.Storage.Dir = dataDir
	}
	return cfg, nil
}

// openStore opens the persisted configuration selected by cfg.
func openStore(cfg *config.Config) (config.Store, error) {
	if cfg.Store.Driver != config.StoreDriverMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	store, err := config.Open(cfg.Store, nil)
	if err != nil {
		return nil, cli.NewConfigError("store", err.Error())
	}
	return store, nil
}

// formatter returns the formatter selected by --output.
func formatter() (cli.Formatter, error) {
	format, err := cli.ParseFormat(outputFmt)
	if err != nil {
		return nil, cli.NewConfigError("output", err.Error())
	}
	return cli.NewFormatter(format), nil
}
