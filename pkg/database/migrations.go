package database

import (
	"database/sql"
	"fmt"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Migrations are compiled into the binary so a deployment can never run
// against a half-provisioned schema directory. Append only; never edit an
// applied migration.
var Migrations = []Migration{
	{
		Version:     "001",
		Description: "users",
		SQL: `
			CREATE TABLE users (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				tier TEXT NOT NULL DEFAULT 'standard',
				poking_enabled INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL
			);
		`,
	},
	{
		Version:     "002",
		Description: "pokes",
		SQL: `
			CREATE TABLE pokes (
				id TEXT PRIMARY KEY,
				from_user TEXT NOT NULL REFERENCES users(id),
				to_user TEXT NOT NULL REFERENCES users(id),
				shared_interest TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending'
					CHECK (status IN ('pending', 'accepted', 'declined', 'expired', 'matched')),
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				responded_at DATETIME
			);
			CREATE INDEX idx_pokes_to_user_status ON pokes(to_user, status);
			CREATE INDEX idx_pokes_from_user_status ON pokes(from_user, status);
			CREATE INDEX idx_pokes_status_expires ON pokes(status, expires_at);
		`,
	},
	{
		Version:     "003",
		Description: "dm_channels",
		SQL: `
			CREATE TABLE dm_channels (
				id TEXT PRIMARY KEY,
				user1 TEXT NOT NULL REFERENCES users(id),
				user2 TEXT NOT NULL REFERENCES users(id),
				created_at DATETIME NOT NULL,
				UNIQUE (user1, user2),
				CHECK (user1 < user2)
			);
		`,
	},
	{
		Version:     "004",
		Description: "messages",
		SQL: `
			CREATE TABLE messages (
				id TEXT PRIMARY KEY,
				cafe_id TEXT NOT NULL,
				from_user TEXT NOT NULL REFERENCES users(id),
				content TEXT NOT NULL,
				flagged INTEGER NOT NULL DEFAULT 0,
				timestamp DATETIME NOT NULL
			);
			CREATE INDEX idx_messages_cafe_time ON messages(cafe_id, timestamp);
		`,
	},
}

// ApplyMigrations brings the schema up to date. Each pending migration runs
// in its own transaction and is recorded in schema_migrations, so a re-run
// finds nothing to do.
func ApplyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version) VALUES (?)", migration.Version,
	); err != nil {
		return err
	}
	return tx.Commit()
}
