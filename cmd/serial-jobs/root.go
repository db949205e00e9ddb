package main

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"github.com/jdziat/serial-jobs/pkg/config"
	"github.com/jdziat/serial-jobs/pkg/storage"
	"github.com/jdziat/serial-jobs/pkg/uow"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "serial-jobs",
		Short:         "Persistent job scheduler with per-host request throttling",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newJobsCmd(opts),
	)
	return cmd
}

// app holds what every command needs: configuration, logging and the store.
type app struct {
	cfg    *config.Config
	zap    *zap.Logger
	logger *slog.Logger
	db     *gorm.DB
	runner *uow.Runner
	store  *storage.GormStorage
}

func newApp(opts *rootOptions, runnerOpts ...uow.Option) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	zl, err := newZapLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger := slog.New(zapslog.NewHandler(zl.Core()))
	slog.SetDefault(logger)

	db, err := openDB(cfg.Database)
	if err != nil {
		_ = zl.Sync()
		return nil, err
	}

	runnerOpts = append([]uow.Option{
		uow.MaxRetries(cfg.Database.MaxRetries),
		uow.RetryDelay(cfg.Database.RetryDelay),
		uow.WithLogger(logger),
	}, runnerOpts...)
	runner := uow.New(db, runnerOpts...)

	store := storage.NewGormStorage(runner,
		storage.WithMinInterval(cfg.Scheduler.MinInterval),
		storage.WithLogger(logger),
	)
	return &app{cfg: cfg, zap: zl, logger: logger, db: db, runner: runner, store: store}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.zap.Sync()
}

// newZapLogger builds the process logger: JSON for machines, console
// otherwise.
func newZapLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.Level)
	}

	if cfg.JSON {
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(level)
		return zc.Build()
	}

	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoder),
		zapcore.AddSync(os.Stderr),
		level,
	)), nil
}

// openDB opens the configured database and sizes its pool.
func openDB(cfg config.Database) (*gorm.DB, error) {
	return storage.Open(cfg.Driver, cfg.DSN,
		storage.MaxOpenConns(cfg.MaxOpenConns),
		storage.MaxIdleConns(cfg.MaxIdleConns),
		storage.ConnMaxLifetime(cfg.ConnMaxLifetime),
		storage.ConnMaxIdleTime(cfg.ConnMaxIdleTime),
	)
}
