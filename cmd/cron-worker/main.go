package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/piratar/members-sync/internal/app"
	"github.com/piratar/members-sync/internal/cron"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/env"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
	"github.com/piratar/members-sync/pkg/migrate"
	"github.com/piratar/members-sync/pkg/redis"
)

const metricsAddrEnv = "MEMBERSYNC_CRON_WORKER_METRICS_ADDR"

func main() {
	once := flag.Bool("once", false, "sweep once and exit; exits 2 when another sweeper holds the lock")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"
	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	err = run(cfg, logg, *once)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, cron.ErrLockHeld):
		logg.Warn(context.Background(), "sweep skipped, another sweeper holds the lock")
		os.Exit(2)
	default:
		logg.Error(context.Background(), "cron worker failed", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger, once bool) (err error) {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	domain, err := app.NewDomain(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	sweeper, err := domain.CronService(redisClient)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(bootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
	})

	if once {
		report, err := sweeper.RunNow(ctx)
		logg.Info(logg.WithFields(ctx, map[string]any{
			"jobs":   len(report.Results),
			"failed": report.Failed(),
		}), "one-off sweep finished")
		return err
	}

	if addr := env.Get(metricsAddrEnv, ""); addr != "" {
		metrics.Serve(ctx, logg, addr)
	}
	logg.Info(ctx, "starting cron worker")
	return sweeper.Run(ctx)
}
