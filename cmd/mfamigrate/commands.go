package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yuu551/cognito-mfa-migration/internal/api"
	"github.com/yuu551/cognito-mfa-migration/internal/directory"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/notify"
)

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		cfg := a.cfg
		logger := a.logger

		var metricsServer *metrics.MetricsServer
		if cfg.Metrics.Enabled {
			metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
			go func() {
				if err := metricsServer.Start(); err != nil {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			logger.Info("metrics server started",
				zap.Int("port", cfg.Metrics.Port),
				zap.String("path", cfg.Metrics.Path),
			)
		}

		a.health.Start(ctx)
		defer a.health.Stop()

		httpServer := api.NewServer(cfg, a.services, a.health, a.metrics, logger)

		errChan := make(chan error, 1)
		go func() {
			if err := httpServer.Start(); err != nil {
				errChan <- err
			}
		}()

		var serveErr error
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case serveErr = <-errChan:
			logger.Error("server error", zap.Error(serveErr))
		}

		logger.Info("initiating graceful shutdown")
		a.health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		var group errs.Group
		group.Add(serveErr)
		group.Add(httpServer.Shutdown(shutdownCtx))
		if metricsServer != nil {
			group.Add(metricsServer.Shutdown(shutdownCtx))
		}

		logger.Info("shutdown complete")
		return group.Err()
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		result := a.services.Migration.MigrateUser(ctx, args[0], "")
		if err := printResult(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("migration of %s failed: %s", args[0], result.Error)
		}
		return nil
	})
}

func runBatchMigrate(cmd *cobra.Command, args []string) error {
	userIDs := append([]string(nil), args...)
	if usersFile != "" {
		fromFile, err := readUserIDs(usersFile)
		if err != nil {
			return err
		}
		userIDs = append(userIDs, fromFile...)
	}
	if len(userIDs) == 0 {
		return errs.New("no users given: pass user ids or --users-file")
	}

	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		result := a.services.Migration.BatchMigrate(ctx, userIDs, batchSize)
		if err := printResult(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if len(result.Failed) > 0 {
			return fmt.Errorf("%d of %d migrations failed", len(result.Failed), len(result.Failed)+len(result.Successful))
		}
		return nil
	})
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		result, err := a.services.Migration.Reconcile(ctx)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), result)
	})
}

func runReadiness(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		report := a.services.Migration.ValidateReadiness(ctx, time.Now())
		if err := printResult(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Ready {
			return fmt.Errorf("not ready: %d issue(s)", len(report.Issues))
		}
		return nil
	})
}

func runPoolStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		status, err := a.services.Migration.PoolStatus(ctx)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), status)
	})
}

func runReport(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		report, err := a.services.Reports.GenerateReport(ctx, time.Now())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), report)
	})
}

func runNotify(cmd *cobra.Command, _ []string) error {
	var recorder *notify.RecordingChannel
	var channel notify.Channel
	if dryRun {
		recorder = notify.NewRecordingChannel()
		channel = recorder
	}

	return withApp(cmd, channel, func(ctx context.Context, a *app) error {
		result, err := a.services.Notifications.NotifyDue(ctx, time.Now())
		if err != nil {
			return err
		}
		if recorder != nil {
			return printResult(cmd.OutOrStdout(), recorder.Sent())
		}
		return printResult(cmd.OutOrStdout(), result)
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		record, err := a.services.Records.GetUserMFAStatus(ctx, args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), record)
	})
}

func runSetStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		return a.services.Records.UpdateMigrationStatus(ctx, args[0], model.MigrationStatus(args[1]))
	})
}

// importFile is the YAML layout accepted by the import command
type importFile struct {
	Users []struct {
		Username   string            `yaml:"username"`
		Enabled    *bool             `yaml:"enabled"`
		Attributes map[string]string `yaml:"attributes"`
		MFAFactors []string          `yaml:"mfa_factors"`
		Groups     []string          `yaml:"groups"`
	} `yaml:"users"`
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		if a.sqlite == nil {
			return errs.New("import requires the sqlite directory backend, have %q", a.cfg.Directory.Backend)
		}
		for _, u := range file.Users {
			if u.Username == "" {
				return errs.New("user without username in %s", args[0])
			}
			enabled := u.Enabled == nil || *u.Enabled
			user := &directory.User{
				Username:   u.Username,
				Enabled:    enabled,
				Attributes: u.Attributes,
				MFAFactors: u.MFAFactors,
			}
			if err := a.sqlite.ImportUser(ctx, a.cfg.Pools.Legacy.StoreID, user, u.Groups); err != nil {
				return fmt.Errorf("failed to import %s: %w", u.Username, err)
			}
		}
		a.logger.Info("Users imported", zap.Int("count", len(file.Users)))
		return nil
	})
}

// readUserIDs reads one id per line, skipping blanks and # comments
func readUserIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

func printResult(w io.Writer, v interface{}) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
