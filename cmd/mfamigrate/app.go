package main

import (
	"context"
	"fmt"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yuu551/cognito-mfa-migration/internal/api"
	"github.com/yuu551/cognito-mfa-migration/internal/config"
	"github.com/yuu551/cognito-mfa-migration/internal/directory"
	"github.com/yuu551/cognito-mfa-migration/internal/health"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
	"github.com/yuu551/cognito-mfa-migration/internal/model"
	"github.com/yuu551/cognito-mfa-migration/internal/notify"
	"github.com/yuu551/cognito-mfa-migration/internal/service"
	"github.com/yuu551/cognito-mfa-migration/internal/store"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	directory directory.Directory
	sqlite    *directory.SQLiteDirectory
	ledger    store.Ledger
	scheduler *service.Scheduler
	health    *health.HealthCheck
	services  api.Services

	closers []func() error
}

// newApp builds the application from configuration. A nil channel selects
// the configured notification backend.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, channel notify.Channel) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewMetrics(),
		health:  health.NewHealthCheck(logger),
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, a.Close())
		}
	}()

	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	if err := a.initDirectory(ctx); err != nil {
		return nil, err
	}
	cache, err := a.initCache()
	if err != nil {
		return nil, err
	}
	if err := a.initLedger(ctx); err != nil {
		return nil, err
	}
	if channel == nil {
		channel, err = a.initChannel(ctx)
		if err != nil {
			return nil, err
		}
	}

	a.scheduler = service.NewScheduler(logger)
	a.closers = append(a.closers, func() error {
		a.scheduler.Stop()
		return nil
	})

	records := service.NewRecordService(a.directory, cache, cfg.Pools.Legacy.StoreID, settings, cfg.Cache.TTL, a.metrics, logger)
	reports := service.NewReportService(records, settings, a.metrics, logger)

	a.services = api.Services{
		Admission: service.NewAdmissionService(records, settings, cfg.Admission.LookupTimeout, a.metrics, logger),
		Records:   records,
		Migration: service.NewMigrationService(
			a.directory,
			records,
			a.ledger,
			service.NewCredentialGenerator(cfg.Migration.CredentialLength),
			a.scheduler,
			service.MigrationServiceConfig{
				Legacy:          cfg.LegacyPool(),
				Target:          cfg.NewPool(),
				Settings:        settings,
				BatchSize:       cfg.Migration.BatchSize,
				InterChunkDelay: cfg.Migration.InterChunkDelay,
			},
			a.metrics,
			logger,
		),
		Reports:       reports,
		Notifications: service.NewNotificationService(channel, records, reports, settings, a.scheduler, a.metrics, logger),
	}

	a.health.Register("directory", func(ctx context.Context) error {
		_, err := a.directory.DescribeStore(ctx, cfg.Pools.Legacy.StoreID)
		return err
	})
	a.health.Register("ledger", a.ledger.Ping)

	return a, nil
}

func (a *app) initDirectory(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Directory.Backend {
	case "memory":
		dir := directory.NewMemoryDirectory()
		dir.AddStore(cfg.Pools.Legacy.StoreID, model.MFAConfiguration(cfg.Pools.Legacy.MFAConfiguration))
		dir.AddStore(cfg.Pools.New.StoreID, model.MFAConfiguration(cfg.Pools.New.MFAConfiguration))
		a.directory = dir
	case "sqlite":
		dir, err := directory.NewSQLiteDirectory(cfg.Directory.SQLitePath, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, dir.Close)
		for _, pool := range []config.PoolConfig{cfg.Pools.Legacy, cfg.Pools.New} {
			if err := dir.EnsureStore(ctx, pool.StoreID, model.MFAConfiguration(pool.MFAConfiguration)); err != nil {
				return err
			}
		}
		a.directory = dir
		a.sqlite = dir
	case "cognito":
		dir, err := directory.NewCognitoDirectory(ctx, cfg.Directory.Region, a.logger)
		if err != nil {
			return err
		}
		a.directory = dir
	default:
		return fmt.Errorf("unknown directory backend %q", cfg.Directory.Backend)
	}

	a.logger.Info("Directory initialized", zap.String("backend", cfg.Directory.Backend))
	return nil
}

func (a *app) initCache() (store.RecordCache, error) {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case "redis":
		cache, err := store.NewRedisRecordCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cache.Close)
		a.health.Register("cache", cache.Ping)
		return cache, nil
	default:
		cache := store.NewInMemoryRecordCache(cfg.MaxSize, a.logger)
		a.closers = append(a.closers, func() error {
			cache.Close()
			return nil
		})
		return cache, nil
	}
}

func (a *app) initLedger(ctx context.Context) error {
	cfg := a.cfg.Ledger
	switch cfg.Backend {
	case "postgres":
		pg := cfg.Postgres
		ledger, err := store.NewPostgresLedger(ctx, pg.Host, pg.Port, pg.Database, pg.User, pg.Password,
			pg.MaxConns, pg.MinConns, a.logger)
		if err != nil {
			return err
		}
		a.ledger = ledger
	default:
		a.ledger = store.NewInMemoryLedger()
	}
	a.closers = append(a.closers, a.ledger.Close)
	return nil
}

func (a *app) initChannel(ctx context.Context) (notify.Channel, error) {
	cfg := a.cfg.Notification
	switch cfg.Backend {
	case "aws":
		return notify.NewAWSChannel(ctx, cfg.Region, cfg.FromAddress, a.logger)
	default:
		return notify.NewLogChannel(a.logger), nil
	}
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var group errs.Group
	for i := len(a.closers) - 1; i >= 0; i-- {
		group.Add(a.closers[i]())
	}
	a.closers = nil
	return group.Err()
}

// initLogger builds a zap logger from the logging section.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
