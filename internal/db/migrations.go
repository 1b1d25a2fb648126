package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS log_entries (
		id              UUID PRIMARY KEY,
		seq             BIGINT NOT NULL,
		logged_at       TIMESTAMPTZ NOT NULL,
		gate_id         TEXT,
		event_type      TEXT NOT NULL,
		severity        TEXT NOT NULL,
		details         TEXT NOT NULL,
		camera_id       TEXT,
		camera_name     TEXT,
		sequence_number INT,
		plate           TEXT,
		detection_id    UUID,
		metadata        JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_log_entries_logged_at ON log_entries(logged_at);`,
	`CREATE INDEX IF NOT EXISTS idx_log_entries_event_type ON log_entries(event_type);`,
	`CREATE TABLE IF NOT EXISTS detection_events (
		id               UUID PRIMARY KEY,
		gate_id          TEXT NOT NULL,
		direction        TEXT NOT NULL,
		source           TEXT NOT NULL,
		raw_plate        TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		camera_id        TEXT,
		camera_name      TEXT,
		confidence       NUMERIC(5,2),
		generation       UUID,
		sequence_number  INT,
		outcome          TEXT NOT NULL,
		captured_at      TIMESTAMPTZ NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_normalized_plate ON detection_events(normalized_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_captured_at ON detection_events(captured_at);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
