package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearJournal removes every journal row. The schema is kept.
func ClearJournal(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing invocation journal", clearLogPrefix))
	if _, err := pool.Exec(ctx, `TRUNCATE TABLE `+JournalTable); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Journal cleared", clearLogPrefix))
	return nil
}

// PruneJournal deletes rows older than maxAge and returns how many went.
func PruneJournal(ctx context.Context, pool *pgxpool.Pool, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("%s - max age must be positive, got %s", clearLogPrefix, maxAge)
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	tag, err := pool.Exec(ctx, `DELETE FROM `+JournalTable+` WHERE invoked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Pruned %d journal rows older than %s", clearLogPrefix, tag.RowsAffected(), maxAge))
	return tag.RowsAffected(), nil
}
