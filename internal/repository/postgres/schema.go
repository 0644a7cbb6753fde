package postgres

import (
	"context"
	"fmt"
)

// Schema statements, applied in order by Migrate. Idempotent so the
// migrate command can run on every deploy.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id                    BIGSERIAL PRIMARY KEY,
		source                TEXT        NOT NULL,
		ride_id               TEXT        NOT NULL,
		name                  TEXT        NOT NULL,
		description           TEXT        NOT NULL DEFAULT '',
		date_start            TIMESTAMPTZ NOT NULL,
		date_end              TIMESTAMPTZ NOT NULL,
		location              TEXT        NOT NULL DEFAULT '',
		city                  TEXT        NOT NULL DEFAULT '',
		state                 TEXT        NOT NULL DEFAULT '',
		country               TEXT        NOT NULL DEFAULT '',
		organization          TEXT        NOT NULL DEFAULT '',
		distances             JSONB       NOT NULL DEFAULT '[]',
		ride_manager          TEXT        NOT NULL DEFAULT '',
		manager_email         TEXT        NOT NULL DEFAULT '',
		manager_phone         TEXT        NOT NULL DEFAULT '',
		website_url           TEXT        NOT NULL DEFAULT '',
		flyer_url             TEXT        NOT NULL DEFAULT '',
		map_link              TEXT        NOT NULL DEFAULT '',
		control_judges        JSONB       NOT NULL DEFAULT '[]',
		is_multi_day          BOOLEAN     NOT NULL DEFAULT FALSE,
		is_pioneer            BOOLEAN     NOT NULL DEFAULT FALSE,
		ride_days             INTEGER     NOT NULL DEFAULT 1,
		has_intro_ride        BOOLEAN     NOT NULL DEFAULT FALSE,
		is_canceled           BOOLEAN     NOT NULL DEFAULT FALSE,
		latitude              DOUBLE PRECISION,
		longitude             DOUBLE PRECISION,
		geocoding_attempted   BOOLEAN     NOT NULL DEFAULT FALSE,
		last_website_check_at TIMESTAMPTZ,
		details               JSONB       NOT NULL DEFAULT '{}',
		notes                 TEXT        NOT NULL DEFAULT '',
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (source, ride_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_date_start ON events (date_start)`,
	`CREATE INDEX IF NOT EXISTS idx_events_geocoding
		ON events (geocoding_attempted) WHERE latitude IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_events_website_check
		ON events (last_website_check_at) WHERE website_url <> ''`,
	`CREATE TABLE IF NOT EXISTS run_reports (
		run_id     TEXT PRIMARY KEY,
		source     TEXT        NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ NOT NULL,
		outcome    TEXT        NOT NULL,
		counts     JSONB       NOT NULL DEFAULT '{}',
		errors     JSONB       NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_reports_started_at ON run_reports (started_at)`,
}

// Migrate applies the schema.
func (r *Repository) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	r.log.Info("schema up to date")
	return nil
}
