// Package main is the entry point for the deployment manager agent.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/samlabs/depman/internal/agent"
	"github.com/samlabs/depman/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "dm-agent",
		Short: "Deployment manager agent",
		Long:  "Polls the deployment manager server and applies updates to the managed service.",
		// Bare invocation runs the daemon, matching how process managers
		// are configured to launch the agent.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), logger)
		},
		SilenceUsage: true,
	}

	root.AddCommand(daemonCmd(logger), applyCmd(logger), statusCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("agent failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func daemonCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the polling daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), logger)
		},
	}
}

func runDaemon(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return err
	}
	if err := cfg.RequireDaemon(); err != nil {
		return err
	}
	return agent.NewDaemon(cfg, logger).Run(ctx)
}

func applyCmd(logger *slog.Logger) *cobra.Command {
	var (
		file     string
		dir      string
		version  string
		checksum string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply an update from a local artifact, without a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && dir == "" {
				return fmt.Errorf("one of --file or --dir is required")
			}
			if file != "" && dir != "" {
				return fmt.Errorf("--file and --dir are mutually exclusive")
			}

			cfg, err := config.LoadAgent()
			if err != nil {
				return err
			}

			result, err := agent.ApplyOffline(cmd.Context(), cfg, agent.OfflineRequest{
				ArchivePath: file,
				BundleDir:   dir,
				Version:     version,
				Checksum:    checksum,
			}, logger)
			if err != nil {
				return err
			}
			if result.Err != nil {
				return fmt.Errorf("update %s: %w", result.Outcome, result.Err)
			}

			fmt.Printf("update applied: %s\n", result.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to a .tar.gz artifact (a manifest.json next to it is read if present)")
	cmd.Flags().StringVar(&dir, "dir", "", "path to a bundle directory with artifact and manifest.json")
	cmd.Flags().StringVar(&version, "version", "", "version being applied (overrides the manifest)")
	cmd.Flags().StringVar(&checksum, "checksum", "", "expected SHA-256 of the artifact (overrides the manifest)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the locally installed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent()
			if err != nil {
				return err
			}
			v, err := agent.ReadVersionFile(cfg.ServiceDir)
			if err != nil {
				return err
			}
			if v == nil {
				fmt.Println("no version installed")
				return nil
			}
			fmt.Println(*v)
			return nil
		},
	}
}
