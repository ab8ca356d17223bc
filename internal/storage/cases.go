package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aioffice/internal/common"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

// CreateCase persists a new case. If no name is set, the next sequence
// reference is assigned. New cases start in state new unless the caller
// provides another declared state.
func (s *SQLiteStorage) CreateCase(ctx context.Context, c *model.Case) (*model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateCase(c); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created, err := s.createCaseTx(ctx, tx, c)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit case: %w", err)
	}
	return created, nil
}

func (s *SQLiteStorage) createCaseTx(ctx context.Context, tx *sql.Tx, c *model.Case) (*model.Case, error) {
	out := *c
	if out.State == "" {
		out.State = model.StateNew
	}
	if out.CompanyID == 0 {
		out.CompanyID = 1
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	if out.Name == "" {
		var next int64
		err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM cases`).Scan(&next)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate case sequence: %w", err)
		}
		out.Name = model.SequenceName(next)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO cases (
			name, state, company_id, partner_id, partner_name,
			period, source_model, source_id, move_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.Name,
		string(out.State),
		out.CompanyID,
		out.PartnerID,
		out.PartnerName,
		out.Period,
		out.SourceModel,
		out.SourceID,
		out.MoveID,
		out.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: case %s", common.ErrDuplicateEntry, out.Name)
		}
		return nil, fmt.Errorf("failed to insert case: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read case id: %w", err)
	}
	out.ID = id
	return &out, nil
}

// GetCase retrieves a case by id.
func (s *SQLiteStorage) GetCase(ctx context.Context, id int64) (*model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getCase(ctx, s.db.QueryRowContext, id)
}

func (s *SQLiteStorage) getCaseTx(ctx context.Context, tx *sql.Tx, id int64) (*model.Case, error) {
	return s.getCase(ctx, tx.QueryRowContext, id)
}

type queryRowFunc func(ctx context.Context, query string, args ...any) *sql.Row

const caseColumns = `id, name, state, company_id, partner_id, partner_name,
	period, source_model, source_id, move_id, created_at`

func (s *SQLiteStorage) getCase(ctx context.Context, queryRow queryRowFunc, id int64) (*model.Case, error) {
	row := queryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	return scanCase(row)
}

// GetCaseByName retrieves a case by its sequence reference.
func (s *SQLiteStorage) GetCaseByName(ctx context.Context, name string) (*model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE name = ?`, name)
	return scanCase(row)
}

func (s *SQLiteStorage) getCaseByNameTx(ctx context.Context, tx *sql.Tx, name string) (*model.Case, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE name = ?`, name)
	return scanCase(row)
}

func scanCase(row *sql.Row) (*model.Case, error) {
	var c model.Case
	var state string
	err := row.Scan(
		&c.ID, &c.Name, &state, &c.CompanyID, &c.PartnerID, &c.PartnerName,
		&c.Period, &c.SourceModel, &c.SourceID, &c.MoveID, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: case", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan case: %w", err)
	}
	c.State = model.CaseState(state)
	return &c, nil
}

// ListCases returns cases matching the filter, newest first.
func (s *SQLiteStorage) ListCases(ctx context.Context, filter service.CaseFilter) ([]model.Case, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listCases(ctx, s.db.QueryContext, filter)
}

func (s *SQLiteStorage) listCasesTx(ctx context.Context, tx *sql.Tx, filter service.CaseFilter) ([]model.Case, error) {
	return s.listCases(ctx, tx.QueryContext, filter)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (s *SQLiteStorage) listCases(ctx context.Context, query queryFunc, filter service.CaseFilter) ([]model.Case, error) {
	var conditions []string
	var args []any

	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.PeriodFrom != "" {
		conditions = append(conditions, "period >= ?")
		args = append(args, filter.PeriodFrom)
	}
	if filter.PeriodTo != "" {
		conditions = append(conditions, "period <= ?")
		args = append(args, filter.PeriodTo)
	}

	q := `SELECT ` + caseColumns + ` FROM cases`
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += " ORDER BY period ASC, name ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cases []model.Case
	for rows.Next() {
		var c model.Case
		var state string
		if err := rows.Scan(
			&c.ID, &c.Name, &state, &c.CompanyID, &c.PartnerID, &c.PartnerName,
			&c.Period, &c.SourceModel, &c.SourceID, &c.MoveID, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		c.State = model.CaseState(state)
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cases: %w", err)
	}
	return cases, nil
}

// UpdateCaseState sets the state of a case. The engine is the only caller;
// it guarantees the transition is declared and audited.
func (s *SQLiteStorage) UpdateCaseState(ctx context.Context, id int64, state model.CaseState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateState(state); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.updateCaseStateTx(ctx, tx, id, state); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) updateCaseStateTx(ctx context.Context, tx *sql.Tx, id int64, state model.CaseState) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("failed to update case state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: case %d", common.ErrNotFound, id)
	}
	return nil
}

// SetCaseMove links a case to its journal entry.
func (s *SQLiteStorage) SetCaseMove(ctx context.Context, id, moveID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.setCaseMoveTx(ctx, tx, id, moveID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) setCaseMoveTx(ctx context.Context, tx *sql.Tx, id, moveID int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE cases SET move_id = ? WHERE id = ?`, moveID, id)
	if err != nil {
		return fmt.Errorf("failed to set case move: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: case %d", common.ErrNotFound, id)
	}
	return nil
}

// DeleteCase removes a case together with its suggestions. Audit entries
// are kept; the trail outlives the case it describes.
func (s *SQLiteStorage) DeleteCase(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteCaseTx(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) deleteCaseTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM suggestions WHERE case_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete case suggestions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: case %d", common.ErrNotFound, id)
	}
	return nil
}
