package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kebairia/snapkeep/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// ProjectRoot is the tree whose backup directory the commands act on.
	ProjectRoot string

	logLevel        string
	logFormat       string
	metricsTextfile string

	// rootCmd is the base command for snapkeep.
	rootCmd = &cobra.Command{
		Use:   "snapkeep",
		Short: "Snapshot, verify and tidy project trees",
		Long: `snapkeep takes full and differential snapshots of a project tree,
verifies and restores them, and can consolidate a tree after
taking a safety snapshot of it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := logger.Init(logger.WithLevel(logLevel), logger.WithFormat(logFormat))
			return err
		},
	}
)

// Execute runs the root command. An interrupt cancels the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Global().Error("command failed", "error", err)
	}
	logger.Cleanup()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ConfigFile, "config", "c", "", "path to YAML config file (defaults and SNAPKEEP_* env when empty)")
	flags.StringVarP(&ProjectRoot, "root", "r", ".", "project root the backup directory is resolved against")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", logger.FormatConsole, "log format: console or json")
	flags.StringVar(&metricsTextfile, "metrics-textfile", "", "write prometheus metrics to this file after the command")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(diffCmd)
}
