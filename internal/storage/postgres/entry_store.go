// Package postgres provides a Postgres-backed solves.EntryStore.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/leetdaily/internal/solves"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable      = "daily_problems"
	defaultFetchTable = "problem_fetches"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	Table           string
	FetchTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Location rebuilds the day column in the tracker's reference zone.
	Location *time.Location
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// EntryStore writes daily entries into Postgres. Upserted entries live in
// Table with a unique (username, day); insert-only runs live in FetchTable.
type EntryStore struct {
	pool       pool
	table      string
	fetchTable string
	loc        *time.Location
}

// New creates a pooled EntryStore using the provided config.
func New(ctx context.Context, cfg Config) (*EntryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, cfg.FetchTable, cfg.Location)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table, fetchTable string, loc *time.Location) (*EntryStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if fetchTable == "" {
		fetchTable = defaultFetchTable
	}
	for _, name := range []string{table, fetchTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	if table == fetchTable {
		return nil, fmt.Errorf("table and fetch table must differ")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &EntryStore{pool: p, table: table, fetchTable: fetchTable, loc: loc}, nil
}

// Close releases the underlying pool resources.
func (s *EntryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates both tables when missing.
func (s *EntryStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	username text NOT NULL,
	day date NOT NULL,
	problems text[] NOT NULL DEFAULT '{}',
	fetched_at timestamptz NOT NULL,
	UNIQUE (username, day)
)`, s.table),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	username text NOT NULL,
	day date NOT NULL,
	problems text[] NOT NULL DEFAULT '{}',
	fetched_at timestamptz NOT NULL
)`, s.fetchTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_username_day_idx ON %s (username, day)`, s.fetchTable, s.fetchTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert records one run as its own row.
func (s *EntryStore) Insert(ctx context.Context, entry solves.Entry) (solves.Entry, error) {
	if entry.ID == "" {
		return solves.Entry{}, fmt.Errorf("entry id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, username, day, problems, fetched_at)
VALUES ($1, $2, $3::date, $4, $5)
RETURNING id, username, day, problems, fetched_at`, s.fetchTable)

	row := s.pool.QueryRow(ctx, query, entryArgs(entry)...)
	saved, err := s.scanEntry(row)
	if err != nil {
		return solves.Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return saved, nil
}

// Merge upserts the (username, day) row. The conflict branch appends the
// new titles not yet present, keeping first-seen order, in one statement.
func (s *EntryStore) Merge(ctx context.Context, entry solves.Entry) (solves.Entry, error) {
	if entry.ID == "" {
		return solves.Entry{}, fmt.Errorf("entry id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS t (id, username, day, problems, fetched_at)
VALUES ($1, $2, $3::date, $4, $5)
ON CONFLICT (username, day) DO UPDATE SET
	problems = ARRAY(
		SELECT u.title
		FROM unnest(t.problems || EXCLUDED.problems) WITH ORDINALITY AS u(title, ord)
		GROUP BY u.title
		ORDER BY min(u.ord)
	),
	fetched_at = EXCLUDED.fetched_at
RETURNING id, username, day, problems, fetched_at`, s.table)

	row := s.pool.QueryRow(ctx, query, entryArgs(entry)...)
	saved, err := s.scanEntry(row)
	if err != nil {
		return solves.Entry{}, fmt.Errorf("merge entry: %w", err)
	}
	return saved, nil
}

// Find lists both tables' rows for the day, oldest fetch first.
func (s *EntryStore) Find(ctx context.Context, username string, day time.Time) ([]solves.Entry, error) {
	query := fmt.Sprintf(`
SELECT id, username, day, problems, fetched_at FROM %s WHERE username = $1 AND day = $2::date
UNION ALL
SELECT id, username, day, problems, fetched_at FROM %s WHERE username = $1 AND day = $2::date
ORDER BY fetched_at`, s.table, s.fetchTable)

	rows, err := s.pool.Query(ctx, query, username, day.In(s.loc).Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()

	var out []solves.Entry
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Ping checks connectivity.
func (s *EntryStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func entryArgs(entry solves.Entry) []any {
	problems := entry.Problems
	if problems == nil {
		problems = []string{}
	}
	return []any{
		entry.ID,
		entry.Username,
		entry.Day.Format(time.DateOnly),
		problems,
		entry.FetchedAt,
	}
}

func (s *EntryStore) scanEntry(row pgx.Row) (solves.Entry, error) {
	var (
		e   solves.Entry
		day time.Time
	)
	if err := row.Scan(&e.ID, &e.Username, &day, &e.Problems, &e.FetchedAt); err != nil {
		return solves.Entry{}, err
	}
	e.Day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	return e, nil
}
