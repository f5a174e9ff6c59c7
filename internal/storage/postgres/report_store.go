// Package postgres indexes run reports in Postgres so passes can be queried
// and replayed without scanning the blob store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/license-resolver/internal/report"
	"github.com/JakeFAU/license-resolver/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ReportStoreConfig controls the Postgres connection pool used for the index.
type ReportStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ReportStore writes one row per report, keyed by run id.
type ReportStore struct {
	pool  queryExecCloser
	table string
}

// NewReportStore connects to Postgres using the provided config.
func NewReportStore(ctx context.Context, cfg ReportStoreConfig) (*ReportStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("reports.index_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewReportStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewReportStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewReportStoreWithPool(pool queryExecCloser, table string) (*ReportStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "run_reports"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ReportStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ReportStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the index table when missing.
func (s *ReportStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL,
	dry_run      BOOLEAN NOT NULL,
	mapped       INTEGER NOT NULL,
	unresolved   INTEGER NOT NULL,
	payload      JSONB NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create report table: %w", err)
	}
	return nil
}

// Save inserts r. A second report with the same run id is refused.
func (s *ReportStore) Save(ctx context.Context, r report.Report) (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal report %s: %w", r.RunID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, kind, generated_at, dry_run, mapped, unresolved, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (run_id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		r.RunID,
		r.Kind,
		r.GeneratedAt,
		r.Options.DryRun(),
		r.Summary.Mapped,
		r.Summary.Unresolved,
		payload,
	)
	if err != nil {
		return "", fmt.Errorf("insert report %s: %w", r.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("insert report %s: %w", r.RunID, storage.ErrObjectExists)
	}
	return fmt.Sprintf("postgres://%s/%s", s.table, r.RunID), nil
}

// List returns every indexed report ordered by generation time, then run id.
func (s *ReportStore) List(ctx context.Context) ([]report.Report, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s ORDER BY generated_at, run_id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []report.Report
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r report.Report
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	report.Sort(out)
	return out, nil
}

var _ report.Store = (*ReportStore)(nil)
