package journal

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notionviews/agent/internal/tracking"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the Postgres connection pool used for view rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Postgres writes view records into Postgres.
type Postgres struct {
	pool  pgxIface
	table string
}

// NewPostgres creates a Postgres-backed journal using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("journal.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "page_views"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// NewPostgresWithPool constructs a journal from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool pgxIface, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "page_views"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Record inserts a view row.
func (p *Postgres) Record(ctx context.Context, record tracking.ViewRecord) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	page_id,
	database_id,
	url,
	trigger_kind,
	tracked_at,
	new_views,
	ok,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, p.table)

	args := []any{
		record.ID,
		record.PageID,
		record.DatabaseID,
		record.URL,
		string(record.Trigger),
		record.TrackedAt,
		record.NewViews,
		record.OK,
		record.ErrorText,
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert view record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]tracking.ViewRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, page_id, database_id, url, trigger_kind, tracked_at, new_views, ok, error_text
FROM %s
ORDER BY tracked_at DESC
LIMIT $1`, p.table)

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query view records: %w", err)
	}
	defer rows.Close()

	var out []tracking.ViewRecord
	for rows.Next() {
		var rec tracking.ViewRecord
		var trigger string
		if err := rows.Scan(
			&rec.ID,
			&rec.PageID,
			&rec.DatabaseID,
			&rec.URL,
			&trigger,
			&rec.TrackedAt,
			&rec.NewViews,
			&rec.OK,
			&rec.ErrorText,
		); err != nil {
			return nil, fmt.Errorf("scan view record: %w", err)
		}
		rec.Trigger = tracking.Trigger(trigger)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate view records: %w", err)
	}
	return out, nil
}
