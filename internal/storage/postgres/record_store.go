// Package postgres provides the Postgres-backed tracked-site record store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitewatch/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable    = "tracked_sites"
	defaultPageSize = 500
)

// RecordStoreConfig controls the Postgres connection pool used for tracked sites.
//
// The table is expected to look like:
//
//	CREATE TABLE tracked_sites (
//		domain           TEXT PRIMARY KEY,
//		url              TEXT NOT NULL,
//		domain_name      TEXT NOT NULL DEFAULT '',
//		scanned_at       BIGINT,
//		scanned_datetime TEXT,
//		website_hash     TEXT,
//		content_status   TEXT NOT NULL DEFAULT '',
//		error_code       TEXT
//	);
type RecordStoreConfig struct {
	DSN             string
	Table           string
	PageSize        int
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// RecordStore reads and upserts tracked-site rows.
type RecordStore struct {
	pool     pool
	table    string
	pageSize int
	logger   *zap.Logger
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig, logger *zap.Logger) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	store, err := NewRecordStoreWithPool(p, cfg.Table, cfg.PageSize, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string, pageSize int, logger *zap.Logger) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordStore{pool: p, table: table, pageSize: pageSize, logger: logger}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// ListRecords reads every tracked site, paging through the table by primary key.
func (s *RecordStore) ListRecords(ctx context.Context) ([]*tracker.Record, error) {
	query := fmt.Sprintf(`
SELECT domain, url, domain_name, scanned_at, scanned_datetime, website_hash, content_status, error_code
FROM %s
WHERE domain > $1
ORDER BY domain
LIMIT $2`, s.table)

	var (
		out   []*tracker.Record
		after string
	)
	for {
		page, err := s.listPage(ctx, query, after)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		s.logger.Debug("record page loaded", zap.Int("rows", len(page)), zap.String("after", after))
		if len(page) < s.pageSize {
			return out, nil
		}
		after = page[len(page)-1].Identity
	}
}

func (s *RecordStore) listPage(ctx context.Context, query, after string) ([]*tracker.Record, error) {
	rows, err := s.pool.Query(ctx, query, after, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var page []*tracker.Record
	for rows.Next() {
		var (
			rec             tracker.Record
			scannedDateTime *string
			status          string
			errorCode       *string
		)
		if err := rows.Scan(
			&rec.Identity,
			&rec.URL,
			&rec.DisplayName,
			&rec.LastScannedAt,
			&scannedDateTime,
			&rec.ContentFingerprint,
			&status,
			&errorCode,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.ScannedDateTime = derefString(scannedDateTime)
		rec.ContentStatus = tracker.ContentStatus(status)
		rec.ErrorCode = derefString(errorCode)
		page = append(page, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return page, nil
}

// UpsertRecords writes the batch inside one transaction, sending every
// statement in a single round trip. Either every record is stored or none are;
// the transaction is rolled back on any failure.
func (s *RecordStore) UpsertRecords(ctx context.Context, records []*tracker.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.Identity == "" {
			return fmt.Errorf("record identity is required (url %q)", rec.URL)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (domain, url, domain_name, scanned_at, scanned_datetime, website_hash, content_status, error_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (domain) DO UPDATE SET
	url = EXCLUDED.url,
	domain_name = EXCLUDED.domain_name,
	scanned_at = EXCLUDED.scanned_at,
	scanned_datetime = EXCLUDED.scanned_datetime,
	website_hash = EXCLUDED.website_hash,
	content_status = EXCLUDED.content_status,
	error_code = EXCLUDED.error_code`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback upsert failed", zap.Error(rbErr))
		}
	}()

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query, upsertArgs(rec)...)
	}
	br := tx.SendBatch(ctx, batch)
	for _, rec := range records {
		var tag pgconn.CommandTag
		tag, err = br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert record %s: %w", rec.Identity, err)
		}
		if tag.RowsAffected() != 1 {
			_ = br.Close()
			return fmt.Errorf("upsert record %s: %d rows affected", rec.Identity, tag.RowsAffected())
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close upsert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	committed = true
	return nil
}

func upsertArgs(rec *tracker.Record) []any {
	return []any{
		rec.Identity,
		rec.URL,
		rec.DisplayName,
		rec.LastScannedAt,
		nullString(rec.ScannedDateTime),
		rec.ContentFingerprint,
		string(rec.ContentStatus),
		nullString(rec.ErrorCode),
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
