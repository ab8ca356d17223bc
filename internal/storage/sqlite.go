// Package storage provides the data persistence layer for the AI office.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"aioffice/internal/model"
	"aioffice/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateCase(c); err != nil {
		return nil, err
	}
	return t.storage.createCaseTx(ctx, t.tx, c)
}

func (t *sqliteTransaction) GetCase(ctx context.Context, id int64) (*model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getCaseTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetCaseByName(ctx context.Context, name string) (*model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.getCaseByNameTx(ctx, t.tx, name)
}

func (t *sqliteTransaction) ListCases(ctx context.Context, filter service.CaseFilter) ([]model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listCasesTx(ctx, t.tx, filter)
}

func (t *sqliteTransaction) UpdateCaseState(ctx context.Context, id int64, state model.CaseState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateState(state); err != nil {
		return err
	}
	return t.storage.updateCaseStateTx(ctx, t.tx, id, state)
}

func (t *sqliteTransaction) SetCaseMove(ctx context.Context, id, moveID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.setCaseMoveTx(ctx, t.tx, id, moveID)
}

func (t *sqliteTransaction) DeleteCase(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.deleteCaseTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) SaveSuggestion(ctx context.Context, sg *model.Suggestion) (*model.Suggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateSuggestion(sg); err != nil {
		return nil, err
	}
	return t.storage.saveSuggestionTx(ctx, t.tx, sg)
}

func (t *sqliteTransaction) GetSuggestions(ctx context.Context, caseID int64) ([]model.Suggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getSuggestionsTx(ctx, t.tx, caseID)
}

func (t *sqliteTransaction) CountSuggestions(ctx context.Context, caseID int64) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.countSuggestionsTx(ctx, t.tx, caseID)
}

func (t *sqliteTransaction) AppendAuditEntry(ctx context.Context, e *model.AuditEntry) (*model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateAuditEntry(e); err != nil {
		return nil, err
	}
	return t.storage.appendAuditEntryTx(ctx, t.tx, e)
}

func (t *sqliteTransaction) GetAuditEntries(ctx context.Context, caseID int64) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAuditEntriesTx(ctx, t.tx, caseID)
}

func (t *sqliteTransaction) GetAuditEntriesByDateRange(ctx context.Context, start, end time.Time) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return t.storage.getAuditEntriesByDateRangeTx(ctx, t.tx, start, end)
}

func (t *sqliteTransaction) DeleteAuditEntry(ctx context.Context, entryID int64, actor model.Actor) error {
	return t.storage.deleteAuditEntryTx(ctx, t.tx, entryID, actor)
}

func (t *sqliteTransaction) SavePolicy(ctx context.Context, p *model.Policy) (*model.Policy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePolicy(p); err != nil {
		return nil, err
	}
	return t.storage.savePolicyTx(ctx, t.tx, p)
}

func (t *sqliteTransaction) GetPolicies(ctx context.Context, query service.PolicyQuery) ([]model.Policy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getPoliciesTx(ctx, t.tx, query)
}

func (t *sqliteTransaction) SaveActor(ctx context.Context, a model.Actor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(a.Name, "actor name"); err != nil {
		return err
	}
	return t.storage.saveActorTx(ctx, t.tx, a)
}

func (t *sqliteTransaction) GetActor(ctx context.Context, name string) (*model.Actor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return t.storage.getActorTx(ctx, t.tx, name)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
