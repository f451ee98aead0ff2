package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

// SourceDir is where new migrations are written, relative to the repo root.
const SourceDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// goose keeps its dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Embedded returns the migration set compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(embedded, embeddedDir)
	if err != nil {
		panic(err)
	}
	return sub
}

// source resolves dir into the filesystem goose should read. An empty dir
// selects the embedded set so workers do not depend on their working
// directory.
func source(dir string) (fs.FS, string) {
	if dir == "" {
		return embedded, embeddedDir
	}
	return os.DirFS(dir), "."
}

func withGoose(dir string, fn func(gooseDir string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	fsys, gooseDir := source(dir)
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn(gooseDir)
}

// Run executes a goose command (up, down, redo, status) against db.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return errors.New("db is required")
	}
	if command == "" {
		return errors.New("command is required")
	}
	return withGoose(dir, func(gooseDir string) error {
		if err := goose.RunContext(ctx, command, db, gooseDir, args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// MigrateToVersion moves the schema up or down until it sits at targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	if db == nil {
		return errors.New("db is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	return withGoose(dir, func(gooseDir string) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		switch {
		case current == target:
			return nil
		case current < target:
			if err := goose.UpToContext(ctx, db, gooseDir, target); err != nil {
				return fmt.Errorf("goose up-to %d: %w", target, err)
			}
		default:
			if err := goose.DownToContext(ctx, db, gooseDir, target); err != nil {
				return fmt.Errorf("goose down-to %d: %w", target, err)
			}
		}
		return nil
	})
}

// Pending lists the versions in dir that are newer than the database version.
func Pending(ctx context.Context, db *sql.DB, dir string) ([]int64, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	var pending []int64
	err := withGoose(dir, func(gooseDir string) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		known, err := goose.CollectMigrations(gooseDir, current, goose.MaxVersion)
		if err != nil {
			if errors.Is(err, goose.ErrNoMigrationFiles) {
				return nil
			}
			return fmt.Errorf("collect migrations: %w", err)
		}
		for _, m := range known {
			if m.Version > current {
				pending = append(pending, m.Version)
			}
		}
		return nil
	})
	return pending, err
}

// SchemaCheck reports an error while the database lags behind the embedded
// migration set. It satisfies the readiness pinger contract.
type SchemaCheck struct {
	DB *sql.DB
}

func (c SchemaCheck) Ping(ctx context.Context) error {
	pending, err := Pending(ctx, c.DB, "")
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%d migration(s) pending, latest %d", len(pending), pending[len(pending)-1])
	}
	return nil
}
