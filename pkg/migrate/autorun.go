package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/eduflow-sync/pkg/config"
	"github.com/angelmondragon/eduflow-sync/pkg/db"
	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

// EnsureLocal applies the embedded local store migrations. The local store is
// owned by the agent, so this runs on every boot regardless of environment.
func EnsureLocal(ctx context.Context, logg *logger.Logger, client *db.Client) error {
	return ensure(ctx, logg, client, false)
}

// MaybeRunDev applies the embedded remote_documents migration when the app is
// running in dev mode and the feature flag is enabled. Production remote
// schemas are managed with cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	return ensure(ctx, logg, client, true)
}

func ensure(ctx context.Context, logg *logger.Logger, client *db.Client, remote bool) error {
	if client == nil {
		return fmt.Errorf("db client is required")
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	dialect, err := Dialect(client.Driver())
	if err != nil {
		return err
	}

	meta := map[string]any{"dialect": dialect, "remote": remote}
	ctx = logg.WithFields(ctx, meta)
	logg.Info(ctx, "running Goose migrations")

	if err := RunEmbedded(ctx, sqlDB, dialect, "up", remote); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}
