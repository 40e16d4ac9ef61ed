// Package db provides database schema management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is a single schema step applied in version order.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations holds the embedded schema. Append new versions at the end;
// applied versions are never edited.
var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema: items, sync queue, sync state, notifications",
		SQL: `
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL CHECK(category IN ('event', 'task', 'habit')),
			color TEXT NOT NULL DEFAULT '',
			reminders TEXT NOT NULL DEFAULT '[]',
			payload TEXT NOT NULL DEFAULT '{}',
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_items_updated_at ON items(updated_at);
		CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);

		CREATE TABLE IF NOT EXISTS sync_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			operation TEXT NOT NULL CHECK(operation IN ('add', 'update', 'delete')),
			payload TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			fire_at INTEGER NOT NULL,
			sound_ref TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_fire_at ON notifications(fire_at);
		`,
	},
}

// Migrate applies all pending schema migrations.
func Migrate(db *DB) error {
	if err := initMigrationTable(db.DB); err != nil {
		return fmt.Errorf("failed to initialize migration table: %w", err)
	}

	current, err := currentVersion(db.DB)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().Unix(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func initMigrationTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := db.Exec(query)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}
