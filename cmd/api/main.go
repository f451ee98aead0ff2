package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/piratar/members-sync/api/controllers"
	"github.com/piratar/members-sync/api/routes"
	"github.com/piratar/members-sync/internal/app"
	"github.com/piratar/members-sync/internal/members"
	"github.com/piratar/members-sync/internal/wakeup"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/env"
	"github.com/piratar/members-sync/pkg/instance"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/migrate"
	"github.com/piratar/members-sync/pkg/pubsub"
	"github.com/piratar/members-sync/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
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

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	replicaStore, err := app.OpenReplica(bootCtx, cfg.Replica)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, replicaStore.Close()) }()

	var (
		notifier members.Notifier
		psClient *pubsub.Client
	)
	if cfg.Sync.WakeupEnabled {
		var psErr error
		if psClient, psErr = pubsub.NewClient(bootCtx, cfg.GCP, cfg.PubSub, logg); psErr != nil {
			return psErr
		}
		defer func() { err = multierr.Append(err, psClient.Close()) }()
		topic, topicErr := psClient.SyncPublisher(bootCtx)
		if topicErr != nil {
			return topicErr
		}
		publisher, pubErr := wakeup.NewPublisher(topic)
		if pubErr != nil {
			return pubErr
		}
		notifier = publisher
	}

	domain, err := app.NewDomain(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Notifier:   notifier,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	clients, sessions, err := domain.Clients(redisClient)
	if err != nil {
		return err
	}

	readiness := []controllers.ReadinessCheck{
		{Name: "database", Pinger: dbClient},
		{Name: "redis", Pinger: redisClient},
		{Name: "replica", Pinger: replicaStore},
	}
	if psClient != nil {
		readiness = append(readiness, controllers.ReadinessCheck{Name: "pubsub", Pinger: psClient})
	}
	if !cfg.DB.IsSQLite() {
		sqlDB, sqlErr := dbClient.DB().DB()
		if sqlErr != nil {
			return sqlErr
		}
		readiness = append(readiness, controllers.ReadinessCheck{Name: "schema", Pinger: migrate.SchemaCheck{DB: sqlDB}})
	}

	router := routes.NewRouter(routes.RouterParams{
		Config:    cfg,
		Logger:    logg,
		Redis:     redisClient,
		Sessions:  sessions,
		Clients:   clients,
		Queue:     domain.Queue,
		Members:   domain.Members,
		Applier:   domain.Applier,
		Audit:     domain.Audit,
		Readiness: readiness,
	})

	addr := ":" + env.First(cfg.App.Port, "PORT")
	ctx := logg.WithFields(bootCtx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logg.Info(ctx, "api server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
