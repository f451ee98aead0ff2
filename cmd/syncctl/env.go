package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/piratar/members-sync/internal/app"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/redis"
	"github.com/piratar/members-sync/pkg/replica"
)

// env holds the connections one command invocation needs. Redis and the
// replica are opened on first use.
type env struct {
	cfg     *config.Config
	logg    *logger.Logger
	db      *db.Client
	domain  *app.Domain
	redis   *redis.Client
	replica replica.Store
}

func openEnv(ctx context.Context, stderr io.Writer) (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = "syncctl"

	logg := logger.New(logger.Options{
		ServiceName: "syncctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	domain, err := app.NewDomain(app.Params{Config: cfg, Logger: logg, DB: dbClient})
	if err != nil {
		_ = dbClient.Close()
		return nil, err
	}
	return &env{cfg: cfg, logg: logg, db: dbClient, domain: domain}, nil
}

func (e *env) Redis(ctx context.Context) (*redis.Client, error) {
	if e.redis != nil {
		return e.redis, nil
	}
	client, err := redis.New(ctx, e.cfg.Redis, e.logg)
	if err != nil {
		return nil, fmt.Errorf("open redis: %w", err)
	}
	e.redis = client
	return client, nil
}

func (e *env) Replica(ctx context.Context) (replica.Store, error) {
	if e.replica != nil {
		return e.replica, nil
	}
	store, err := app.OpenReplica(ctx, e.cfg.Replica)
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}
	e.replica = store
	return store, nil
}

func (e *env) Close() error {
	var err error
	if e.replica != nil {
		err = multierr.Append(err, e.replica.Close())
	}
	if e.redis != nil {
		err = multierr.Append(err, e.redis.Close())
	}
	return multierr.Append(err, e.db.Close())
}

// withEnv opens the environment, runs fn and closes everything it opened.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, e.Close()) }()
	return fn(ctx, e)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
