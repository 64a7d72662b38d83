package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs the idempotent schema bootstrap: table, indexes, and the
// house/search_vector maintenance triggers. Safe to call on every startup.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema statement: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS streams (
		video_id         TEXT PRIMARY KEY,
		title            TEXT NOT NULL,
		view_count       TEXT NOT NULL,
		stream_timestamp TIMESTAMPTZ NOT NULL,
		duration         TEXT NOT NULL,
		summary_md       TEXT,
		timestamp_md     TEXT,
		is_published     BOOLEAN NOT NULL DEFAULT FALSE,
		search_vector    tsvector,
		house            TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS streams_search_vector_idx ON streams USING GIN (search_vector)`,

	// derive_house implements the house case rule as a SQL function so it
	// can be invoked from a trigger (Postgres generated columns cannot
	// portably call arbitrary CASE-driven substring logic).
	`CREATE OR REPLACE FUNCTION derive_house(title_in text) RETURNS text AS $$
	BEGIN
		IF title_in ILIKE '%national assembly%' AND title_in ILIKE '%senate%' THEN
			RETURN 'all';
		ELSIF title_in ILIKE '%national assembly%' THEN
			RETURN 'national assembly';
		ELSIF title_in ILIKE '%senate%' THEN
			RETURN 'senate';
		ELSE
			RETURN 'unspecified';
		END IF;
	END;
	$$ LANGUAGE plpgsql IMMUTABLE`,

	`CREATE OR REPLACE FUNCTION streams_before_write() RETURNS trigger AS $$
	BEGIN
		NEW.house := derive_house(NEW.title);
		NEW.search_vector := to_tsvector('english', coalesce(NEW.title, '') || ' ' || coalesce(NEW.summary_md, ''));
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DO $$
	BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM pg_trigger WHERE tgname = 'streams_before_write_trigger'
		) THEN
			CREATE TRIGGER streams_before_write_trigger
			BEFORE INSERT OR UPDATE ON streams
			FOR EACH ROW EXECUTE FUNCTION streams_before_write();
		END IF;
	END;
	$$`,

	// search_queries is collaborator-owned; declared here only so a future
	// FK from this schema has somewhere to point, never written to by this
	// repo's migrations.
	`CREATE TABLE IF NOT EXISTS search_queries (
		id         BIGSERIAL PRIMARY KEY,
		query_text TEXT NOT NULL,
		queried_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
