package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// schema is portable between sqlite and postgres; timestamps and days are
// stored as fixed-width UTC text and YYYY-MM-DD.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS forecast_run (
    id TEXT PRIMARY KEY,
    year INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    input_digest TEXT NOT NULL DEFAULT '',
    window_start TEXT NOT NULL,
    window_end TEXT NOT NULL,
    confidence TEXT NOT NULL DEFAULT '',
    failures INTEGER NOT NULL DEFAULT 0,
    report TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_forecast_run_year ON forecast_run(year, created_at)`,

	`CREATE TABLE IF NOT EXISTS state_estimate (
    run_id TEXT NOT NULL REFERENCES forecast_run(id) ON DELETE CASCADE,
    state TEXT NOT NULL,
    day TEXT NOT NULL,
    democratic_share DOUBLE PRECISION NOT NULL,
    republican_share DOUBLE PRECISION NOT NULL,
    democratic_win_probability DOUBLE PRECISION NOT NULL,
    republican_win_probability DOUBLE PRECISION NOT NULL,
    democratic_standard_error DOUBLE PRECISION NOT NULL,
    republican_standard_error DOUBLE PRECISION NOT NULL,
    effective_sample_size DOUBLE PRECISION NOT NULL,
    source TEXT NOT NULL,
    polls_in_window INTEGER NOT NULL DEFAULT 0,
    has_polls INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, state, day)
)`,

	`CREATE TABLE IF NOT EXISTS electoral_mode (
    run_id TEXT NOT NULL REFERENCES forecast_run(id) ON DELETE CASCADE,
    day TEXT NOT NULL,
    total_electors INTEGER NOT NULL,
    democratic_mode INTEGER NOT NULL,
    republican_mode INTEGER NOT NULL,
    democratic_expected DOUBLE PRECISION NOT NULL,
    republican_expected DOUBLE PRECISION NOT NULL,
    democratic_majority DOUBLE PRECISION NOT NULL,
    republican_majority DOUBLE PRECISION NOT NULL,
    tie DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, day)
)`,

	`CREATE TABLE IF NOT EXISTS electoral_distribution (
    run_id TEXT NOT NULL REFERENCES forecast_run(id) ON DELETE CASCADE,
    day TEXT NOT NULL,
    total INTEGER NOT NULL,
    democratic_mass DOUBLE PRECISION NOT NULL,
    republican_mass DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (run_id, day, total)
)`,
}

// createSchema creates all tables. Safe to call multiple times.
func createSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders as $1, $2, ... for postgres
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
