package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/migrate"
)

type options struct {
	cmd     string
	dir     string
	name    string
	version string
}

func main() {
	var opts options
	flag.StringVar(&opts.cmd, "cmd", "up", "up|down|redo|status|pending|version|create|validate")
	flag.StringVar(&opts.dir, "dir", "", "migrations directory; empty uses the set built into the binary ("+migrate.SourceDir+" for create)")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	if err := run(context.Background(), logg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", opts.cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, opts options) (err error) {
	// create and validate never touch the database
	switch opts.cmd {
	case "create":
		if opts.name == "" {
			return errors.New("missing -name")
		}
		dir := opts.dir
		if dir == "" {
			dir = migrate.SourceDir
		}
		path, err := migrate.CreateSQLMigration(dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created migration:", path)
		return nil

	case "validate":
		fsys := migrate.Embedded()
		if opts.dir != "" {
			fsys = os.DirFS(opts.dir)
		}
		if err := migrate.Validate(fsys); err != nil {
			return err
		}
		missing, err := migrate.CheckTables(fsys)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("no migration creates %v", missing)
		}
		fmt.Println("migration validation passed")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "cmd": opts.cmd})
	if cfg.DB.IsSQLite() {
		return errors.New("migrations target postgres; sqlite schemas are created by the test harness")
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}

	switch opts.cmd {
	case "up", "down", "status", "redo":
		logg.Info(ctx, "running migrations")
		return migrate.Run(ctx, sqlDB, opts.dir, opts.cmd)

	case "pending":
		pending, err := migrate.Pending(ctx, sqlDB, opts.dir)
		if err != nil {
			return err
		}
		for _, v := range pending {
			fmt.Println(v)
		}
		fmt.Printf("%d pending\n", len(pending))
		return nil

	case "version":
		if opts.version == "" {
			return errors.New("missing -version")
		}
		logg.Info(logg.WithField(ctx, "target", opts.version), "migrating to version")
		return migrate.MigrateToVersion(ctx, sqlDB, opts.dir, opts.version)

	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
}
