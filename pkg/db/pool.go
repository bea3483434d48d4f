// Package db stores the invocation journal in Postgres via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// JournalTable is created by the first migration.
const JournalTable = "invocation_journal"

// NewPool opens a pgx pool and checks connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	// Journal writes are small and bursty.
	config.MaxConns = 8
	config.MinConns = 1

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

// RunMigrations applies up migrations in order. Every migration is
// idempotent, so re-running is safe.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.Up); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - applied %s", logPrefix, m.Name))
	}
	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// Status describes the journal schema.
type Status struct {
	Applied    bool
	Files      int
	Rows       int64
	Migrations string
}

func (s Status) String() string {
	if !s.Applied {
		return fmt.Sprintf("Migration status: not applied (run 'bridge migrate up'). %d migration files in %s", s.Files, s.Migrations)
	}
	return fmt.Sprintf("Migration status: applied (%d journal rows, %d migration files in %s)", s.Rows, s.Files, s.Migrations)
}

// MigrationStatus reports whether the journal table exists and how many
// rows it holds.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (*Status, error) {
	const statusLogPrefix = "db:MigrationStatus"

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return nil, fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}
	st := &Status{Files: len(files), Migrations: migrationPath}

	err = pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`,
		JournalTable).Scan(&st.Applied)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}
	if st.Applied {
		if err := pool.QueryRow(ctx, `SELECT count(*) FROM `+JournalTable).Scan(&st.Rows); err != nil {
			return nil, fmt.Errorf("%s - failed to count rows: %w", statusLogPrefix, err)
		}
	}
	return st, nil
}

// MigrationDown reverts the newest migration that has a down script. It
// returns the name reverted, or "" when nothing can be reverted.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (string, error) {
	migrations, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return "", err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Down == "" {
			continue
		}
		if _, err := pool.Exec(ctx, m.Down); err != nil {
			return "", fmt.Errorf("%s - revert %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - reverted %s", logPrefix, m.Name))
		return m.Name, nil
	}
	slog.Info(fmt.Sprintf("%s - no down migrations in %s", logPrefix, migrationPath))
	return "", nil
}
