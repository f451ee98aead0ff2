package migrate

import (
	"context"
	"fmt"

	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when running in dev with
// MEMBERSYNC_AUTO_MIGRATE set. The migration SQL targets postgres, so sqlite
// databases are left alone.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	if cfg.DB.IsSQLite() {
		logg.Warn(ctx, "skipping auto-migrate on sqlite")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	pending, err := Pending(ctx, sqlDB, "")
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logg.Debug(ctx, "schema up to date")
		return nil
	}

	ctx = logg.WithField(ctx, "pending", len(pending))
	logg.Info(ctx, "applying migrations")
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return err
	}
	logg.Info(ctx, "migrations applied")
	return nil
}
