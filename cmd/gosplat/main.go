// gosplat turns a video into a 3D Gaussian-splat point cloud by sequencing
// ffmpeg, COLMAP, and a splat training backend as subprocesses.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/me/gosplat/internal/config"
	"github.com/me/gosplat/internal/executor"
	"github.com/me/gosplat/internal/logging"
	"github.com/me/gosplat/internal/pipeline"
	"github.com/me/gosplat/internal/workspace"
)

var (
	dryRun    bool
	force     bool
	verbose   bool
	quiet     bool
	logFormat string
)

const version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "gosplat",
		Short:   "video to Gaussian-splat pipeline",
		Version: version,
		Long: `gosplat runs the extract -> reconstruct -> train -> export pipeline
described by a configuration document.

Examples:
  # Write an annotated starter config
  gosplat init scene.jsonc

  # Run the pipeline
  gosplat run scene.jsonc

  # Print every command without executing anything
  gosplat run scene.jsonc --dry-run
`,
	}

	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Print commands without executing them")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "Ignore skip-if-exists policies")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Stream subprocess output to the console")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress informational logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text|json)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(printCommandsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	return logging.NewLogger(level, logFormat)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <config>",
		Short: "Run the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(args[0], dryRun)
		},
	}
}

func printCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-commands <config>",
		Short: "Print every stage command without executing (alias for run --dry-run)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(args[0], true)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <path>",
		Short: "Write an annotated configuration template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0]); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}
}

func runPipeline(configPath string, dry bool) error {
	logger := newLogger()

	// Config errors surface before any directory is created or process
	// spawned.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	layout, err := workspace.Plan(cfg.Project.Workdir, cfg.Reconstruct.Database)
	if err != nil {
		return err
	}

	runID := uuid.NewString()[:8]
	runLog, err := logging.OpenRunLog(layout.LogFile(runID, time.Now()))
	if err != nil {
		return err
	}
	defer runLog.Close()

	exec := &executor.Executor{
		Logger:  logger,
		Log:     runLog,
		DryRun:  dry,
		Verbose: verbose,
	}
	ctrl := pipeline.New(cfg, layout, exec, logger, runLog, pipeline.Options{
		RunID:  runID,
		DryRun: dry,
		Force:  force,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, cancelling...")
		cancel()
	}()

	m, err := ctrl.Run(ctx)
	if err != nil {
		runLog.Notef("run failed: %v", err)
		return err
	}

	if dry {
		fmt.Printf("dry run complete, commands logged to %s\n", runLog.Path())
		return nil
	}
	fmt.Printf("pipeline complete: %s\n", m.Output)
	return nil
}
