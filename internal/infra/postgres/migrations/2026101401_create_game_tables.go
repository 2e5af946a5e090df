package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_game_tables.sql
var createGameTablesSQL string

// Migrations holds the schema of the game backend, applied by the migrate command.
var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createGameTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `
DROP VIEW IF EXISTS game_results;
DROP TABLE IF EXISTS blobs, reactions, answers, participants, games, choices, questions, quiz_sets;`)
			return err
		},
	)
}
