// Package db provides the data store handed to livequery handlers: a pgx-backed repository and
// an in-memory equivalent.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

// RunMigrations applies migrations in order. Migrations are written to be idempotent
// (CREATE ... IF NOT EXISTS), so re-running them on startup is safe.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - applied %s", logPrefix, m.Name))
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// MigrationStatus reports whether the schema is present by checking for the tables the
// migrations create.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (string, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var present int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*)::int FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_name IN ('counters', 'guestbook_entries')`).Scan(&present)
	if err != nil {
		return "", fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	migrations, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return "", fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	switch present {
	case 2:
		return fmt.Sprintf("applied (schema present, %d migration files in %s)", len(migrations), migrationPath), nil
	case 0:
		return fmt.Sprintf("not applied (run 'livequery migrate up'), %d migration files in %s", len(migrations), migrationPath), nil
	default:
		return fmt.Sprintf("partially applied (%d of 2 tables present)", present), nil
	}
}
