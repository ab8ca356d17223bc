package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 4

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: cases, suggestions, audit log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS cases (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT UNIQUE NOT NULL,
					state TEXT NOT NULL DEFAULT 'new',
					company_id INTEGER NOT NULL DEFAULT 1,
					partner_id INTEGER DEFAULT 0,
					partner_name TEXT DEFAULT '',
					period TEXT DEFAULT '',
					source_model TEXT DEFAULT '',
					source_id INTEGER DEFAULT 0,
					move_id INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_cases_state ON cases(state)`,
				`CREATE INDEX idx_cases_period ON cases(period)`,

				`CREATE TABLE IF NOT EXISTS suggestions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					case_id INTEGER NOT NULL,
					suggestion_type TEXT NOT NULL,
					payload_json TEXT NOT NULL DEFAULT '{}',
					confidence REAL DEFAULT 0,
					risk_score REAL DEFAULT 0,
					explanation_md TEXT DEFAULT '',
					requires_human INTEGER DEFAULT 1,
					agent_name TEXT DEFAULT '',
					request_id TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (case_id) REFERENCES cases(id)
				)`,
				`CREATE INDEX idx_suggestions_case_id ON suggestions(case_id)`,

				`CREATE TABLE IF NOT EXISTS audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					case_id INTEGER NOT NULL,
					actor_type TEXT NOT NULL,
					actor TEXT NOT NULL,
					action TEXT NOT NULL,
					before_json TEXT DEFAULT '',
					after_json TEXT DEFAULT '',
					request_id TEXT DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_audit_log_case_id ON audit_log(case_id)`,
				`CREATE INDEX idx_audit_log_created_at ON audit_log(created_at)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Enforce audit log immutability at the schema level",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				// Deletion is only possible while a bypass token is held
				// inside the same transaction. See DeleteAuditEntry.
				`CREATE TABLE IF NOT EXISTS audit_bypass (
					token TEXT PRIMARY KEY,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE TRIGGER audit_log_no_update
					BEFORE UPDATE ON audit_log
				BEGIN
					SELECT RAISE(ABORT, 'audit log entries are immutable');
				END`,
				`CREATE TRIGGER audit_log_no_delete
					BEFORE DELETE ON audit_log
					WHEN (SELECT COUNT(*) FROM audit_bypass) = 0
				BEGIN
					SELECT RAISE(ABORT, 'audit log entries cannot be deleted');
				END`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Add policies table",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS policies (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					scope TEXT NOT NULL,
					key TEXT DEFAULT '',
					rules_json TEXT DEFAULT '',
					version INTEGER DEFAULT 1,
					active_from DATETIME,
					active_to DATETIME,
					is_active INTEGER DEFAULT 1,
					company_id INTEGER DEFAULT 0
				)`,
				`CREATE INDEX idx_policies_scope_key ON policies(scope, key)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     4,
		Description: "Add actors table for capability lookup",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS actors (
					name TEXT PRIMARY KEY,
					role TEXT NOT NULL DEFAULT 'user'
				)
			`)
			return err
		},
	},
}

// Migrate applies any outstanding schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
