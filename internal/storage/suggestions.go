package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"aioffice/internal/model"
)

// SaveSuggestion persists an agent suggestion. Suggestions are immutable;
// there is intentionally no update method.
func (s *SQLiteStorage) SaveSuggestion(ctx context.Context, sg *model.Suggestion) (*model.Suggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateSuggestion(sg); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := s.saveSuggestionTx(ctx, tx, sg)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit suggestion: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStorage) saveSuggestionTx(ctx context.Context, tx *sql.Tx, sg *model.Suggestion) (*model.Suggestion, error) {
	// The case must exist; suggestions cannot dangle
	if _, err := s.getCaseTx(ctx, tx, sg.CaseID); err != nil {
		return nil, err
	}

	out := *sg
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	payload := string(out.Payload)
	if payload == "" {
		payload = "{}"
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO suggestions (
			case_id, suggestion_type, payload_json, confidence, risk_score,
			explanation_md, requires_human, agent_name, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.CaseID,
		string(out.Type),
		payload,
		out.Confidence,
		out.RiskScore,
		out.Explanation,
		out.RequiresHuman,
		out.AgentName,
		out.RequestID,
		out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert suggestion: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read suggestion id: %w", err)
	}
	out.ID = id
	return &out, nil
}

// GetSuggestions returns all suggestions for a case, newest first.
func (s *SQLiteStorage) GetSuggestions(ctx context.Context, caseID int64) ([]model.Suggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getSuggestions(ctx, s.db.QueryContext, caseID)
}

func (s *SQLiteStorage) getSuggestionsTx(ctx context.Context, tx *sql.Tx, caseID int64) ([]model.Suggestion, error) {
	return s.getSuggestions(ctx, tx.QueryContext, caseID)
}

func (s *SQLiteStorage) getSuggestions(ctx context.Context, query queryFunc, caseID int64) ([]model.Suggestion, error) {
	rows, err := query(ctx, `
		SELECT id, case_id, suggestion_type, payload_json, confidence, risk_score,
			explanation_md, requires_human, agent_name, request_id, created_at
		FROM suggestions
		WHERE case_id = ?
		ORDER BY created_at DESC, id DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []model.Suggestion
	for rows.Next() {
		var sg model.Suggestion
		var sgType, payload string
		if err := rows.Scan(
			&sg.ID, &sg.CaseID, &sgType, &payload, &sg.Confidence, &sg.RiskScore,
			&sg.Explanation, &sg.RequiresHuman, &sg.AgentName, &sg.RequestID, &sg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		sg.Type = model.SuggestionType(sgType)
		sg.Payload = []byte(payload)
		suggestions = append(suggestions, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suggestions: %w", err)
	}
	return suggestions, nil
}

// CountSuggestions returns the number of suggestions attached to a case.
func (s *SQLiteStorage) CountSuggestions(ctx context.Context, caseID int64) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestions WHERE case_id = ?`, caseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count suggestions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) countSuggestionsTx(ctx context.Context, tx *sql.Tx, caseID int64) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM suggestions WHERE case_id = ?`, caseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count suggestions: %w", err)
	}
	return count, nil
}
