package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS containers (
    id TEXT PRIMARY KEY,
    name TEXT,
    kind TEXT,
    logger_id TEXT
);

CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    species TEXT,
    scenario_id TEXT,
    stocked_at DATE NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    batch_id TEXT NOT NULL,
    container_id TEXT NOT NULL,
    stage TEXT,
    start_date DATE NOT NULL,
    end_date DATE,
    baseline_population INTEGER NOT NULL,
    baseline_date DATE NOT NULL,
    active BOOLEAN DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS growth_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    sample_date DATE NOT NULL,
    avg_weight_g REAL NOT NULL,
    avg_length_cm REAL,
    sample_size INTEGER,
    method TEXT,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    transfer_date DATE NOT NULL,
    delta_count INTEGER NOT NULL,
    avg_weight_g REAL,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS treatments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    treatment_date DATE NOT NULL,
    kind TEXT,
    avg_weight_g REAL,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS mortality_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    event_date DATE NOT NULL,
    count INTEGER NOT NULL,
    cause TEXT,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS feed_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    container_id TEXT NOT NULL,
    feed_date DATE NOT NULL,
    feed_kg REAL NOT NULL,
    feed_type TEXT,
    recorded_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sensor_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    container_id TEXT NOT NULL,
    read_at DATETIME NOT NULL,
    temp_c REAL NOT NULL,
    oxygen_mg_l REAL,
    salinity_ppt REAL,
    UNIQUE(container_id, read_at)
);

CREATE TABLE IF NOT EXISTS planned_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    planned_date DATE NOT NULL,
    note TEXT
);

CREATE TABLE IF NOT EXISTS scenarios (
    id TEXT PRIMARY KEY,
    name TEXT,
    species TEXT,
    tgc REAL NOT NULL,
    mortality_pct_month REAL NOT NULL DEFAULT 0,
    harvest_threshold_g REAL NOT NULL DEFAULT 0,
    transfer_threshold_g REAL NOT NULL DEFAULT 0,
    planned_end_date DATE,
    horizon_days INTEGER NOT NULL DEFAULT 365,
    updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS scenario_temps (
    scenario_id TEXT NOT NULL,
    day_number INTEGER NOT NULL,
    temp_c REAL NOT NULL,
    PRIMARY KEY (scenario_id, day_number)
);

CREATE TABLE IF NOT EXISTS scenario_stage_tgc (
    scenario_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    tgc REAL NOT NULL,
    PRIMARY KEY (scenario_id, stage)
);

CREATE TABLE IF NOT EXISTS daily_states (
    assignment_id TEXT NOT NULL,
    state_date DATE NOT NULL,
    avg_weight_g REAL NOT NULL,
    population INTEGER NOT NULL,
    biomass_kg REAL NOT NULL,
    temp_c REAL,
    mortality_count INTEGER NOT NULL DEFAULT 0,
    feed_kg REAL,
    observed_fcr REAL,
    anchor_type TEXT,
    sources TEXT,
    confidence TEXT,
    last_computed_at DATETIME NOT NULL,
    PRIMARY KEY (assignment_id, state_date)
);

CREATE TABLE IF NOT EXISTS forward_projections (
    computed_date DATE NOT NULL,
    assignment_id TEXT NOT NULL,
    projection_date DATE NOT NULL,
    projected_weight_g REAL NOT NULL,
    projected_population INTEGER NOT NULL,
    projected_biomass_kg REAL NOT NULL,
    temperature_used_c REAL NOT NULL,
    tgc_value_used REAL NOT NULL,
    temp_bias_c REAL NOT NULL,
    temp_bias_window_days INTEGER NOT NULL,
    bias_clamp_min REAL NOT NULL,
    bias_clamp_max REAL NOT NULL,
    PRIMARY KEY (computed_date, assignment_id, projection_date)
);

CREATE TABLE IF NOT EXISTS forecast_summaries (
    assignment_id TEXT PRIMARY KEY,
    computed_at DATETIME NOT NULL,
    state_date DATE,
    current_weight_g REAL NOT NULL DEFAULT 0,
    current_population INTEGER NOT NULL DEFAULT 0,
    current_biomass_kg REAL NOT NULL DEFAULT 0,
    stage TEXT,
    harvest_date DATE,
    harvest_weight_g REAL,
    days_to_harvest INTEGER,
    transfer_date DATE,
    transfer_weight_g REAL,
    days_to_transfer INTEGER,
    planned_end_date DATE,
    variance_days INTEGER,
    projection_partial BOOLEAN DEFAULT FALSE,
    attention BOOLEAN DEFAULT FALSE,
    attention_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_samples_assignment_date ON growth_samples(assignment_id, sample_date);
CREATE INDEX IF NOT EXISTS idx_transfers_assignment_date ON transfers(assignment_id, transfer_date);
CREATE INDEX IF NOT EXISTS idx_treatments_assignment_date ON treatments(assignment_id, treatment_date);
CREATE INDEX IF NOT EXISTS idx_mortality_assignment_date ON mortality_events(assignment_id, event_date);
CREATE INDEX IF NOT EXISTS idx_feed_container_date ON feed_entries(container_id, feed_date);
CREATE INDEX IF NOT EXISTS idx_readings_container_time ON sensor_readings(container_id, read_at);
CREATE INDEX IF NOT EXISTS idx_projections_assignment ON forward_projections(assignment_id, computed_date);
`,
	},
	{
		Version:     2,
		Description: "Run audit tables for recompute, projection and telemetry",
		SQL: `
CREATE TABLE IF NOT EXISTS recompute_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    window_start DATE NOT NULL,
    window_end DATE NOT NULL,
    trigger_kind TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    anchor_count INTEGER,
    rows_created INTEGER,
    rows_updated INTEGER,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS projection_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    assignment_id TEXT NOT NULL,
    computed_date DATE NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    horizon_days INTEGER,
    rows_written INTEGER,
    partial BOOLEAN DEFAULT FALSE,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS telemetry_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source TEXT NOT NULL,
    endpoint TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    readings_parsed INTEGER,
    readings_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS telemetry_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER REFERENCES telemetry_runs(id),
    source TEXT NOT NULL,
    received_at DATETIME NOT NULL,
    body BLOB
);

CREATE INDEX IF NOT EXISTS idx_recompute_runs_assignment ON recompute_runs(assignment_id, started_at);
CREATE INDEX IF NOT EXISTS idx_telemetry_payloads_received ON telemetry_payloads(received_at);
`,
	},
	{
		Version:     3,
		Description: "Narrative column on forecast summaries",
		SQL: `
ALTER TABLE forecast_summaries ADD COLUMN narrative TEXT;
`,
	},
}

// Migrate applies any pending migrations.
func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
