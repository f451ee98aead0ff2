package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/piratar/members-sync/internal/app"
	"github.com/piratar/members-sync/internal/wakeup"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/env"
	"github.com/piratar/members-sync/pkg/instance"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/metrics"
	"github.com/piratar/members-sync/pkg/migrate"
	"github.com/piratar/members-sync/pkg/pubsub"
)

const metricsAddrEnv = "MEMBERSYNC_SYNC_WORKER_METRICS_ADDR"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return err
	}

	replicaStore, err := app.OpenReplica(bootCtx, cfg.Replica)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, replicaStore.Close()) }()

	domain, err := app.NewDomain(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	var (
		wakeListener *wakeup.Listener
		wakeCh       <-chan struct{}
	)
	if cfg.Sync.WakeupEnabled {
		psClient, psErr := pubsub.NewClient(bootCtx, cfg.GCP, cfg.PubSub, logg)
		if psErr != nil {
			return psErr
		}
		defer func() { err = multierr.Append(err, psClient.Close()) }()

		wakeSignal := wakeup.NewSignal()
		sub, subErr := psClient.SyncSubscription(bootCtx)
		if subErr != nil {
			return subErr
		}
		if wakeListener, err = wakeup.NewListener(sub, wakeSignal, logg); err != nil {
			return err
		}
		wakeCh = wakeSignal.C()
	}

	reconciler, err := domain.Reconciler(replicaStore, wakeCh)
	if err != nil {
		return err
	}

	params := ServiceParams{
		Logger:     logg,
		DB:         dbClient,
		Reconciler: reconciler,
	}
	if wakeListener != nil {
		params.Listener = wakeListener
	}
	service, err := NewService(params)
	if err != nil {
		return err
	}

	ctx, stop := notifyContext(bootCtx)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"replica":     cfg.Replica.Driver,
	})

	if addr := env.Get(metricsAddrEnv, ""); addr != "" {
		metrics.Serve(ctx, logg, addr)
	}

	logg.Info(ctx, "starting sync worker")
	if err := service.Run(ctx); err != nil {
		return err
	}
	logg.Info(ctx, "sync worker shutting down gracefully")
	return nil
}

func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
