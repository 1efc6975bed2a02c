package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository is the Postgres data store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// =========================================================================
// COUNTERS
// =========================================================================

// GetCounter returns the value of the named counter, or 0 if it has never been written.
func (r *Repository) GetCounter(ctx context.Context, name string) (int64, error) {
	slog.Debug(fmt.Sprintf("%s - GetCounter name=%s", repoLogPrefix, name))

	var value int64
	err := r.pool.QueryRow(ctx, `SELECT value FROM counters WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s - get counter %s: %w", repoLogPrefix, name, err)
	}
	return value, nil
}

// AddToCounter atomically adds delta to the named counter and returns the new value.
func (r *Repository) AddToCounter(ctx context.Context, name string, delta int64) (int64, error) {
	slog.Debug(fmt.Sprintf("%s - AddToCounter name=%s delta=%d", repoLogPrefix, name, delta))

	var value int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO counters (name, value, modified)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET
		   value = counters.value + EXCLUDED.value,
		   modified = NOW()
		 RETURNING value`, name, delta).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("%s - add to counter %s: %w", repoLogPrefix, name, err)
	}
	return value, nil
}

// =========================================================================
// GUESTBOOK
// =========================================================================

// ListGuestbookEntries returns the newest entries first.
func (r *Repository) ListGuestbookEntries(ctx context.Context, limit int) ([]GuestbookEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, message, created
		 FROM guestbook_entries
		 ORDER BY created DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - list guestbook entries: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	entries := make([]GuestbookEntry, 0, limit)
	for rows.Next() {
		var e GuestbookEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Message, &e.Created); err != nil {
			return nil, fmt.Errorf("%s - scan guestbook entry: %w", repoLogPrefix, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - iterate guestbook entries: %w", repoLogPrefix, err)
	}
	return entries, nil
}

// AddGuestbookEntry inserts a new entry and returns it.
func (r *Repository) AddGuestbookEntry(ctx context.Context, name, message string) (*GuestbookEntry, error) {
	slog.Info(fmt.Sprintf("%s - AddGuestbookEntry name=%s", repoLogPrefix, name))

	e := GuestbookEntry{Name: name, Message: message}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO guestbook_entries (name, message) VALUES ($1, $2)
		 RETURNING id, created`, name, message).Scan(&e.ID, &e.Created)
	if err != nil {
		return nil, fmt.Errorf("%s - add guestbook entry: %w", repoLogPrefix, err)
	}
	return &e, nil
}
