// Package main is the operator CLI for mediaoffload: it validates bucket
// settings, pushes or removes individual files and manages the rewrite
// rules and the content index without a running server.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/index"
	"github.com/mediaoffload/mediaoffload/internal/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

// env is what a subcommand works with.
type env struct {
	cfg *config.Config
	idx *index.SQLiteStore
}

func (e *env) Close() error {
	return e.idx.Close()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:   "mediaoffload-ctl",
		Short: "Operate a mediaoffload installation",
		Long: `Operate a mediaoffload installation from the command line.

Examples:
  # Check that the configured bucket is usable
  mediaoffload-ctl probe

  # Mirror existing uploads to the bucket
  mediaoffload-ctl upload www/wp-content/uploads/2024/*.png

  # Dump the content index without secrets
  mediaoffload-ctl export -o index.json`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env", ".env", "optional .env file with MEDIAOFFLOAD_* overrides")
	rootCmd.PersistentFlags().StringVarP(&flags.logLevel, "log-level", "l", "warn", "log level")

	rootCmd.AddCommand(newProbeCmd(flags))
	rootCmd.AddCommand(newUploadCmd(flags))
	rootCmd.AddCommand(newDeleteCmd(flags))
	rootCmd.AddCommand(newInstallRulesCmd(flags))
	rootCmd.AddCommand(newExportCmd(flags))
	return rootCmd
}

// loadConfig reads the config file and environment and sets up logging.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadEnv(cfg, flags.envFile); err != nil {
		return nil, err
	}
	logging.Setup(flags.logLevel, cfg.Logging.Format, "mediaoffload-ctl", cmd.ErrOrStderr())
	return cfg, nil
}

// openEnv loads the configuration and opens the content index, seeding
// unset settings the same way the server does on boot.
func openEnv(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*env, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Index.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	idx, err := index.NewSQLiteStore(cfg.Index.Path)
	if err != nil {
		return nil, err
	}
	if _, err := config.SeedBucketSettings(ctx, idx, cfg.Storage); err != nil {
		idx.Close()
		return nil, err
	}
	return &env{cfg: cfg, idx: idx}, nil
}
