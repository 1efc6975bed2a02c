package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearData truncates every livequery table; the schema is preserved.
func ClearData(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Truncating counters and guestbook_entries", clearLogPrefix))
	if _, err := pool.Exec(ctx, `TRUNCATE TABLE counters, guestbook_entries RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}
	return nil
}
