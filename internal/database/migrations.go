package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	log.Info().Msg("Running database migrations")

	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	// Run migrations
	for _, migration := range migrations {
		if migration.Version > currentVersion {
			log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applying migration")

			if err := db.Transaction(func(tx *sql.Tx) error {
				// Execute migration SQL - split by semicolons and execute each statement
				// This ensures each statement is properly executed and errors are caught
				statements := splitSQLStatements(migration.SQL)
				for i, stmt := range statements {
					if _, err := tx.Exec(stmt); err != nil {
						return fmt.Errorf("migration %d statement %d failed: %w", migration.Version, i+1, err)
					}
				}

				// Record migration
				if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
					return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
				}

				return nil
			}); err != nil {
				return err
			}
		}
	}

	log.Info().Msg("Database migrations complete")
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// splitSQLStatements splits a SQL string into individual statements.
// It handles comments and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(sql, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip empty lines and comments
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		// Check if line ends with semicolon (statement complete)
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	// Handle any remaining content without trailing semicolon
	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: `
			-- Signing deals: one sender's documents routed to recipients
			CREATE TABLE transfers (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				sender_id TEXT,
				sender_name TEXT,
				sender_email TEXT,
				sender_public_key TEXT,
				sender_transport TEXT,
				sender_timestamp INTEGER,
				sender_verified BOOLEAN,
				transport_type TEXT NOT NULL DEFAULT '',
				transport_config TEXT,
				metadata TEXT,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			);

			-- Files within a transfer, individually signable
			CREATE TABLE documents (
				id TEXT PRIMARY KEY,
				transfer_id TEXT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
				file_name TEXT NOT NULL,
				file_size INTEGER NOT NULL DEFAULT 0,
				file_hash TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				signed_at INTEGER,
				signed_by TEXT,
				blockchain_tx_original TEXT,
				blockchain_tx_signed TEXT,
				created_at INTEGER NOT NULL
			);

			-- Parties tracked through notify/view/sign milestones
			CREATE TABLE recipients (
				id TEXT PRIMARY KEY,
				transfer_id TEXT NOT NULL REFERENCES transfers(id) ON DELETE CASCADE,
				identifier TEXT NOT NULL,
				transport TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				preferences TEXT,
				notified_at INTEGER,
				viewed_at INTEGER,
				signed_at INTEGER,
				created_at INTEGER NOT NULL
			);

			-- Global settings
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- Indexes for common queries
			CREATE INDEX idx_transfers_type ON transfers(type);
			CREATE INDEX idx_transfers_status ON transfers(status);
			CREATE INDEX idx_transfers_created ON transfers(created_at);
			CREATE INDEX idx_documents_transfer ON documents(transfer_id);
			CREATE INDEX idx_documents_status ON documents(status);
			CREATE INDEX idx_recipients_transfer ON recipients(transfer_id);
			CREATE INDEX idx_recipients_status ON recipients(status);
		`,
	},
}
