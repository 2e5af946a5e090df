package cli

import (
	"context"
	"database/sql"
	"fmt"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/postgres/migrations"
	"live-quiz-service/internal/logger"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
			if err != nil {
				return err
			}
			defer log.Sync()
			return runMigrations(cmd.Context(), cfg.Postgres.URL, log)
		},
	}
}

func runMigrations(ctx context.Context, dsn string, log *zap.SugaredLogger) error {
	if dsn == "" {
		return fmt.Errorf("postgres url not configured")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		log.Infow("database schema up to date")
		return nil
	}
	log.Infow("migrations applied", "group", group.ID, "migrations", len(group.Migrations))
	return nil
}
