// Package main provides the mfamigrate command: the admission and operator
// HTTP service plus one-shot operator subcommands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/config"
	"github.com/yuu551/cognito-mfa-migration/internal/notify"
)

var (
	rootCmd = &cobra.Command{
		Use:           "mfamigrate",
		Short:         "Run the MFA enrollment campaign and migrate accounts to the MFA-required store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the pre-authentication hook and operator API",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate USER_ID",
		Short: "Migrate one user to the new store",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrate,
	}

	batchMigrateCmd = &cobra.Command{
		Use:   "batch-migrate [USER_ID...]",
		Short: "Migrate users in bounded concurrent chunks",
		RunE:  runBatchMigrate,
	}

	reconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "Migrate every enabled legacy user that has no account in the new store",
		RunE:  runReconcile,
	}

	readinessCmd = &cobra.Command{
		Use:   "readiness",
		Short: "Check that both stores are configured for migration",
		RunE:  runReadiness,
	}

	poolStatusCmd = &cobra.Command{
		Use:   "pool-status",
		Short: "Compare active accounts in the legacy and new stores",
		RunE:  runPoolStatus,
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print the campaign progress report",
		RunE:  runReport,
	}

	notifyCmd = &cobra.Command{
		Use:   "notify",
		Short: "Send reminders to every user due one today",
		RunE:  runNotify,
	}

	statusCmd = &cobra.Command{
		Use:   "status USER_ID",
		Short: "Print a user's migration record",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	setStatusCmd = &cobra.Command{
		Use:   "set-status USER_ID STATUS",
		Short: "Set a user's migration status",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetStatus,
	}

	importCmd = &cobra.Command{
		Use:   "import FILE",
		Short: "Load legacy accounts from a YAML file into the SQLite directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}

	configPath string
	format     string
	batchSize  int
	usersFile  string
	dryRun     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "json", "output format: json or yaml")

	batchMigrateCmd.Flags().IntVar(&batchSize, "batch-size", 0, "users migrated concurrently per chunk (default from config)")
	batchMigrateCmd.Flags().StringVar(&usersFile, "users-file", "", "file with one user id per line")
	notifyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "format messages without delivering them")

	rootCmd.AddCommand(
		serveCmd,
		migrateCmd,
		batchMigrateCmd,
		reconcileCmd,
		readinessCmd,
		poolStatusCmd,
		reportCmd,
		notifyCmd,
		statusCmd,
		setStatusCmd,
		importCmd,
	)
}

// withApp loads configuration, wires the application and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, channel notify.Channel, fn func(ctx context.Context, a *app) error) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, channel)
	if err != nil {
		logger.Error("failed to initialize", zap.Error(err))
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to release resources", zap.Error(cerr))
		}
	}()

	return fn(ctx, a)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
