package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations runs all pending database migrations.
func RunMigrations(dbURL string, schema string) error {
	slog.Info("Running database migrations...")

	if schema == "" {
		schema = "public"
	}

	connConfig, err := pgx.ParseConfig(dbURL)
	if err != nil {
		return fmt.Errorf("unable to parse database url: %w", err)
	}

	// Schema must exist before search_path can point at it.
	bootstrap := stdlib.OpenDB(*connConfig.Copy())
	if err := ensureSchemaExists(bootstrap, schema); err != nil {
		bootstrap.Close()
		return err
	}
	bootstrap.Close()

	// Every pooled connection goose opens must land in the schema.
	connConfig.RuntimeParams["search_path"] = schema
	db := stdlib.OpenDB(*connConfig)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("unable to create migration provider: %w", err)
	}

	results, err := provider.Up(context.Background())
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, err := provider.GetDBVersion(context.Background())
	if err != nil {
		return fmt.Errorf("unable to read schema version: %w", err)
	}

	slog.Info("Database migrations completed successfully", "applied", len(results), "version", version)
	return nil
}

func ensureSchemaExists(db *sql.DB, schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{schema}.Sanitize()
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("unable to create schema %s: %w", schema, err)
	}
	slog.Info("Schema is ready", "schema", schema)

	return nil
}
