package persist

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with synced streams and miniblocks",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add cleartexts table for decrypted event content",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
-- Synced stream records: one row per stream the client replicates.
CREATE TABLE IF NOT EXISTS synced_streams (
    stream_id                   TEXT PRIMARY KEY,
    cursor                      TEXT NOT NULL,
    last_snapshot_miniblock_num INTEGER NOT NULL,
    last_miniblock_num          INTEGER NOT NULL,
    minipool                    TEXT NOT NULL,
    updated_at                  INTEGER NOT NULL
);

-- Confirmed miniblocks, keyed by stream and block number.
CREATE TABLE IF NOT EXISTS miniblocks (
    stream_id       TEXT NOT NULL,
    miniblock_num   INTEGER NOT NULL,
    data            TEXT NOT NULL,
    PRIMARY KEY (stream_id, miniblock_num)
);

CREATE INDEX IF NOT EXISTS idx_miniblocks_stream ON miniblocks(stream_id, miniblock_num);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_miniblocks_stream;
DROP TABLE IF EXISTS miniblocks;
DROP TABLE IF EXISTS synced_streams;
`

const migrationV2Up = `
-- Decrypted cleartexts so restored sessions skip re-decryption.
CREATE TABLE IF NOT EXISTS cleartexts (
    event_id    TEXT PRIMARY KEY,
    stream_id   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    content     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cleartexts_stream ON cleartexts(stream_id);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_cleartexts_stream;
DROP TABLE IF EXISTS cleartexts;
`

// MigrateDB applies all pending migrations to the database.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
