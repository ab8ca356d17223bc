package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aioffice/internal/common"
	"aioffice/internal/model"

	"github.com/google/uuid"
)

// AppendAuditEntry records one entry in the append-only audit log.
// It succeeds for any existing case; there is no update method and
// deletion is refused at the schema level.
func (s *SQLiteStorage) AppendAuditEntry(ctx context.Context, e *model.AuditEntry) (*model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateAuditEntry(e); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := s.appendAuditEntryTx(ctx, tx, e)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStorage) appendAuditEntryTx(ctx context.Context, tx *sql.Tx, e *model.AuditEntry) (*model.AuditEntry, error) {
	if _, err := s.getCaseTx(ctx, tx, e.CaseID); err != nil {
		return nil, err
	}

	out := *e
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (
			case_id, actor_type, actor, action, before_json, after_json,
			request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.CaseID,
		string(out.ActorType),
		out.Actor,
		out.Action,
		out.BeforeJSON,
		out.AfterJSON,
		out.RequestID,
		out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entry id: %w", err)
	}
	out.ID = id
	return &out, nil
}

const auditColumns = `id, case_id, actor_type, actor, action, before_json,
	after_json, request_id, created_at`

// GetAuditEntries returns the audit trail of a case, oldest first.
func (s *SQLiteStorage) GetAuditEntries(ctx context.Context, caseID int64) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryAuditEntries(ctx, s.db.QueryContext,
		`SELECT `+auditColumns+` FROM audit_log WHERE case_id = ? ORDER BY created_at ASC, id ASC`, caseID)
}

func (s *SQLiteStorage) getAuditEntriesTx(ctx context.Context, tx *sql.Tx, caseID int64) ([]model.AuditEntry, error) {
	return s.queryAuditEntries(ctx, tx.QueryContext,
		`SELECT `+auditColumns+` FROM audit_log WHERE case_id = ? ORDER BY created_at ASC, id ASC`, caseID)
}

// GetAuditEntriesByDateRange returns audit entries across all cases in a
// time window, oldest first. Used by the compliance export.
func (s *SQLiteStorage) GetAuditEntriesByDateRange(ctx context.Context, start, end time.Time) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return s.queryAuditEntries(ctx, s.db.QueryContext,
		`SELECT `+auditColumns+` FROM audit_log WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC, id ASC`,
		start, end)
}

func (s *SQLiteStorage) getAuditEntriesByDateRangeTx(ctx context.Context, tx *sql.Tx, start, end time.Time) ([]model.AuditEntry, error) {
	return s.queryAuditEntries(ctx, tx.QueryContext,
		`SELECT `+auditColumns+` FROM audit_log WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC, id ASC`,
		start, end)
}

func (s *SQLiteStorage) queryAuditEntries(ctx context.Context, query queryFunc, q string, args ...any) ([]model.AuditEntry, error) {
	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var actorType string
		if err := rows.Scan(
			&e.ID, &e.CaseID, &actorType, &e.Actor, &e.Action, &e.BeforeJSON,
			&e.AfterJSON, &e.RequestID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ActorType = model.ActorType(actorType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit log: %w", err)
	}
	return entries, nil
}

// DeleteAuditEntry removes one audit entry through the compliance bypass.
// Any actor below admin gets a ComplianceViolation and the log is left
// untouched. The bypass deletion is itself recorded as a new audit entry
// so the privileged path leaves a trace.
func (s *SQLiteStorage) DeleteAuditEntry(ctx context.Context, entryID int64, actor model.Actor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteAuditEntryTx(ctx, tx, entryID, actor); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) deleteAuditEntryTx(ctx context.Context, tx *sql.Tx, entryID int64, actor model.Actor) error {
	if !actor.CanBypassCompliance() {
		return fmt.Errorf("%w: audit entries are immutable; actor %q lacks the compliance bypass",
			common.ErrComplianceViolation, actor.Name)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE id = ?`, entryID)
	var deleted model.AuditEntry
	var actorType string
	err := row.Scan(
		&deleted.ID, &deleted.CaseID, &actorType, &deleted.Actor, &deleted.Action,
		&deleted.BeforeJSON, &deleted.AfterJSON, &deleted.RequestID, &deleted.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: audit entry %d", common.ErrNotFound, entryID)
	}
	if err != nil {
		return fmt.Errorf("failed to read audit entry: %w", err)
	}
	deleted.ActorType = model.ActorType(actorType)

	// The delete trigger only stands down while a bypass token exists.
	// Token insert, row delete and token removal share one transaction,
	// so the window never outlives this call.
	token := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO audit_bypass (token) VALUES (?)`, token); err != nil {
		return fmt.Errorf("failed to arm compliance bypass: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log WHERE id = ?`, entryID); err != nil {
		return fmt.Errorf("failed to delete audit entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_bypass WHERE token = ?`, token); err != nil {
		return fmt.Errorf("failed to disarm compliance bypass: %w", err)
	}

	beforeJSON, err := json.Marshal(map[string]any{
		"deleted_entry_id": deleted.ID,
		"action":           deleted.Action,
		"actor":            deleted.Actor,
		"created_at":       deleted.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize deleted entry: %w", err)
	}

	// Record the bypass while the case still exists. Trails of purged
	// cases have nowhere left to attach the record.
	if _, err := s.getCaseTx(ctx, tx, deleted.CaseID); err == nil {
		if _, err := s.appendAuditEntryTx(ctx, tx, &model.AuditEntry{
			CaseID:     deleted.CaseID,
			ActorType:  model.ActorUser,
			Actor:      actor.Name,
			Action:     "audit_delete",
			BeforeJSON: string(beforeJSON),
		}); err != nil {
			return fmt.Errorf("failed to record bypass deletion: %w", err)
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	return nil
}
