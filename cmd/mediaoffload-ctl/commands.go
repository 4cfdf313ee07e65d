package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/index"
	"github.com/mediaoffload/mediaoffload/internal/offload"
	"github.com/mediaoffload/mediaoffload/internal/probe"
	"github.com/mediaoffload/mediaoffload/internal/rewrite"
)

// newProber is replaced in tests.
var newProber = func() *probe.Prober { return probe.New(nil) }

func newProbeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Validate the bucket settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			bc, err := config.ReadBucketConfig(ctx, e.idx, e.cfg.Storage)
			if err != nil {
				return err
			}
			if _, err := newProber().Validate(ctx, bc); err != nil {
				if errors.Is(err, probe.ErrConfigurationIncomplete) {
					return fmt.Errorf("not connected: missing %v", bc.Missing())
				}
				return fmt.Errorf("not connected: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connection established: bucket %s in %s\n", bc.Bucket, bc.Region)
			return nil
		},
	}
}

// connect validates the settings and returns an engine bound to the store.
func connect(cmd *cobra.Command, e *env) (*offload.Engine, error) {
	ctx := cmd.Context()
	bc, err := config.ReadBucketConfig(ctx, e.idx, e.cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := newProber().Validate(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("not connected: %w", err)
	}
	root, err := filepath.Abs(e.cfg.Media.ContentRoot())
	if err != nil {
		return nil, err
	}
	return offload.NewEngine(store, root, e.idx), nil
}

func newUploadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Copy local media files to the bucket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()
			engine, err := connect(cmd, e)
			if err != nil {
				return err
			}
			failed := 0
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				if err := engine.Upload(cmd.Context(), offload.UploadDescriptor{File: path}); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "failed    %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded  %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args))
			}
			return nil
		},
	}
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>...",
		Short: "Remove the bucket copies of local media files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()
			engine, err := connect(cmd, e)
			if err != nil {
				return err
			}
			failed := 0
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				deleted, err := engine.DeletePath(cmd.Context(), path)
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "failed    %s: %v\n", path, err)
				case deleted:
					fmt.Fprintf(cmd.OutOrStdout(), "deleted   %s\n", path)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "absent    %s\n", path)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deletes failed", failed, len(args))
			}
			return nil
		},
	}
}

func newInstallRulesCmd(flags *globalFlags) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "install-rules",
		Short: "Install the rewrite rules into the uploads directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if target == "" {
				target = cfg.RewriteTarget()
			}
			dir := cfg.Media.UploadsRoot()
			wrote, err := rewrite.Install(dir, target)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, rewrite.FileName)
			if wrote {
				fmt.Fprintf(cmd.OutOrStdout(), "Installed rules in %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Rules already present in %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "rewrite destination (default: this server's address)")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		output         string
		tables         []string
		includeSecrets bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the content index as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return e.idx.Export(cmd.Context(), w, &index.ExportOptions{
				Tables:         tables,
				IncludeSecrets: includeSecrets,
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "tables to export (default: attachments,options)")
	cmd.Flags().BoolVar(&includeSecrets, "include-secrets", false, "include sensitive settings unredacted")
	return cmd
}
