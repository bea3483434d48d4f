package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/desktop-bridge/pkg/router"
)

const repoLogPrefix = "db:repository"

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Repository reads and writes the invocation journal. It implements
// router.Journal.
type Repository struct {
	pool    *pgxpool.Pool
	session uuid.UUID
}

// NewRepository creates a Repository. Rows it writes share a session ID so
// one process run can be told apart from the next.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, session: uuid.New()}
}

// Session returns the session ID stamped on new rows.
func (r *Repository) Session() uuid.UUID {
	return r.session
}

// Ping checks the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RecordInvocation appends one routed envelope to the journal.
func (r *Repository) RecordInvocation(ctx context.Context, rec *router.InvocationRecord) error {
	var errorCode *string
	if rec.ErrorCode != "" {
		errorCode = &rec.ErrorCode
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invocation_journal
		   (id, session_id, label, module, command, callback_id, error_id, ok, error_code, duration_us, invoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), r.session, rec.Label, rec.Module, rec.Command,
		int64(rec.Callback), int64(rec.Error), rec.Ok, errorCode,
		rec.Duration.Microseconds(), rec.At)
	if err != nil {
		return fmt.Errorf("%s - insert %s.%s failed: %w", repoLogPrefix, rec.Module, rec.Command, err)
	}
	return nil
}

// buildListQuery renders the filtered journal query and its arguments.
func buildListQuery(p ListInvocationsParams) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if p.Label != "" {
		add("label = $%d", p.Label)
	}
	if p.Module != "" {
		add("module = $%d", p.Module)
	}
	if !p.Since.IsZero() {
		add("invoked_at >= $%d", p.Since.UTC())
	}
	if p.FailedOnly {
		where = append(where, "NOT ok")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`SELECT id, session_id, label, module, command, callback_id, error_id, ok,
	        COALESCE(error_code, ''), duration_us, invoked_at
	 FROM invocation_journal`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY invoked_at DESC LIMIT $%d", len(args))
	return b.String(), args
}

// ListRecentInvocations returns journal rows newest first.
func (r *Repository) ListRecentInvocations(ctx context.Context, p ListInvocationsParams) ([]Invocation, error) {
	query, args := buildListQuery(p)
	slog.Debug(fmt.Sprintf("%s - ListRecentInvocations label=%s module=%s failed=%v", repoLogPrefix, p.Label, p.Module, p.FailedOnly))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - list failed: %w", repoLogPrefix, err)
	}
	out, err := pgx.CollectRows(rows, scanInvocation)
	if err != nil {
		return nil, fmt.Errorf("%s - scan failed: %w", repoLogPrefix, err)
	}
	return out, nil
}

func scanInvocation(row pgx.CollectableRow) (Invocation, error) {
	var (
		inv        Invocation
		cb, errID  int64
		durationUs int64
	)
	err := row.Scan(&inv.ID, &inv.SessionID, &inv.Label, &inv.Module, &inv.Command,
		&cb, &errID, &inv.Ok, &inv.ErrorCode, &durationUs, &inv.InvokedAt)
	if err != nil {
		return inv, err
	}
	inv.CallbackID = uint32(cb)
	inv.ErrorID = uint32(errID)
	inv.Duration = time.Duration(durationUs) * time.Microsecond
	return inv, nil
}

// Summarize aggregates calls, failures and mean duration per command.
func (r *Repository) Summarize(ctx context.Context, since time.Time) ([]CommandSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT module, command, count(*), count(*) FILTER (WHERE NOT ok),
		        COALESCE(avg(duration_us), 0)::bigint, max(invoked_at)
		 FROM invocation_journal
		 WHERE invoked_at >= $1
		 GROUP BY module, command
		 ORDER BY module, command`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%s - summarize failed: %w", repoLogPrefix, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CommandSummary, error) {
		var (
			s     CommandSummary
			avgUs int64
		)
		if err := row.Scan(&s.Module, &s.Command, &s.Calls, &s.Failures, &avgUs, &s.LastAt); err != nil {
			return s, err
		}
		s.AvgDuration = time.Duration(avgUs) * time.Microsecond
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s - scan failed: %w", repoLogPrefix, err)
	}
	return out, nil
}
