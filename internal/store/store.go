// Package store persists processed sitting records to Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/c12i/bunge-bits-go/internal/domain"
)

// Config defines connection-pool parameters for the datastore.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns reasonable pool sizing for a low-throughput daemon
// with at most a handful of concurrent writes per run.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps a Postgres connection pool and the streams table operations.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at databaseURL, pings it, and runs the schema
// bootstrap. The returned Store must be closed by the caller.
func Open(ctx context.Context, databaseURL string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping failed: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate failed: %w", err)
	}

	return &Store{db: db}, nil
}

// newWithDB wraps an already-open *sql.DB without pinging or migrating,
// used by tests against sqlmock.
func newWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the datastore is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Exists reports whether a row for videoID is already persisted.
func (s *Store) Exists(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM streams WHERE video_id = $1)`, videoID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return exists, nil
}

// FilterNew returns the subset of candidates not yet present in the store,
// preserving input order.
func (s *Store) FilterNew(ctx context.Context, candidates []domain.Candidate) ([]domain.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.VideoID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id FROM streams WHERE video_id = ANY($1)`, pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("store: filter new: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: filter new scan: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: filter new rows: %w", err)
	}

	fresh := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := existing[c.VideoID]; !ok {
			fresh = append(fresh, c)
		}
	}
	return fresh, nil
}

// UpsertWithSummary inserts the full record, or on conflict by video_id,
// updates only summary_md and timestamp_md. house and search_vector are
// never referenced here — they are trigger-maintained. is_published is
// never written by this method; it defaults to FALSE on insert and is left
// untouched on conflict, per the editorial-gate invariant.
func (s *Store) UpsertWithSummary(ctx context.Context, rec domain.StreamRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO streams (video_id, title, view_count, stream_timestamp, duration, summary_md, timestamp_md)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (video_id) DO UPDATE SET
			summary_md   = EXCLUDED.summary_md,
			timestamp_md = EXCLUDED.timestamp_md
	`, rec.VideoID, rec.Title, rec.ViewCount, rec.StreamTimestamp, rec.Duration, rec.SummaryMD, rec.TimestampMD)
	if err != nil {
		return fmt.Errorf("store: upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert commit: %w", err)
	}
	return nil
}

// Get returns the stream record for videoID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, videoID string) (domain.StreamRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT video_id, title, view_count, stream_timestamp, duration, summary_md, timestamp_md, is_published, house
		FROM streams WHERE video_id = $1
	`, videoID)

	rec, err := scanStreamRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StreamRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.StreamRecord{}, fmt.Errorf("store: get: %w", err)
	}
	return rec, nil
}

// ListPublished returns published records ordered by most recent sitting
// first, bounded by limit/offset.
func (s *Store) ListPublished(ctx context.Context, limit, offset int) ([]domain.StreamRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, title, view_count, stream_timestamp, duration, summary_md, timestamp_md, is_published, house
		FROM streams
		WHERE is_published = TRUE
		ORDER BY stream_timestamp DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list published: %w", err)
	}
	defer rows.Close()

	return scanStreamRecords(rows)
}

// SearchPublished tokenizes query against search_vector and returns matching
// published records, most recent first.
func (s *Store) SearchPublished(ctx context.Context, query string, limit, offset int) ([]domain.StreamRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, title, view_count, stream_timestamp, duration, summary_md, timestamp_md, is_published, house
		FROM streams
		WHERE is_published = TRUE AND search_vector @@ plainto_tsquery('english', $1)
		ORDER BY stream_timestamp DESC
		LIMIT $2 OFFSET $3
	`, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: search published: %w", err)
	}
	defer rows.Close()

	return scanStreamRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStreamRecord(row rowScanner) (domain.StreamRecord, error) {
	var rec domain.StreamRecord
	var summaryMD, timestampMD sql.NullString
	var house sql.NullString

	err := row.Scan(
		&rec.VideoID, &rec.Title, &rec.ViewCount, &rec.StreamTimestamp, &rec.Duration,
		&summaryMD, &timestampMD, &rec.IsPublished, &house,
	)
	if err != nil {
		return domain.StreamRecord{}, err
	}

	if summaryMD.Valid {
		rec.SummaryMD = &summaryMD.String
	}
	if timestampMD.Valid {
		rec.TimestampMD = &timestampMD.String
	}
	if house.Valid {
		rec.House = domain.House(house.String)
	}
	return rec, nil
}

func scanStreamRecords(rows *sql.Rows) ([]domain.StreamRecord, error) {
	var records []domain.StreamRecord
	for rows.Next() {
		rec, err := scanStreamRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return records, nil
}
