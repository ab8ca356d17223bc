package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"aioffice/internal/model"
	"aioffice/internal/service"
)

// SavePolicy inserts or versions a policy. Saving under an existing
// (scope, key) pair gets the next version number.
func (s *SQLiteStorage) SavePolicy(ctx context.Context, p *model.Policy) (*model.Policy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePolicy(p); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := s.savePolicyTx(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit policy: %w", err)
	}
	return saved, nil
}

func (s *SQLiteStorage) savePolicyTx(ctx context.Context, tx *sql.Tx, p *model.Policy) (*model.Policy, error) {
	out := *p
	if out.Version == 0 {
		var maxVersion int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM policies WHERE scope = ? AND key = ?`,
			string(out.Scope), out.Key,
		).Scan(&maxVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve policy version: %w", err)
		}
		out.Version = maxVersion + 1
	}

	var activeFrom, activeTo any
	if !out.ActiveFrom.IsZero() {
		activeFrom = out.ActiveFrom
	}
	if !out.ActiveTo.IsZero() {
		activeTo = out.ActiveTo
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO policies (
			name, scope, key, rules_json, version, active_from, active_to,
			is_active, company_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		out.Name,
		string(out.Scope),
		out.Key,
		out.RulesJSON,
		out.Version,
		activeFrom,
		activeTo,
		out.Active,
		out.CompanyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert policy: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read policy id: %w", err)
	}
	out.ID = id
	return &out, nil
}

// GetPolicies returns active policies matching the scope keys at the query
// time, ranked supplier before company before category and newest version
// first within a rank.
func (s *SQLiteStorage) GetPolicies(ctx context.Context, query service.PolicyQuery) ([]model.Policy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPolicies(ctx, s.db.QueryContext, query)
}

func (s *SQLiteStorage) getPoliciesTx(ctx context.Context, tx *sql.Tx, query service.PolicyQuery) ([]model.Policy, error) {
	return s.getPolicies(ctx, tx.QueryContext, query)
}

func (s *SQLiteStorage) getPolicies(ctx context.Context, queryFn queryFunc, query service.PolicyQuery) ([]model.Policy, error) {
	at := query.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	rows, err := queryFn(ctx, `
		SELECT id, name, scope, key, rules_json, version, active_from, active_to,
			is_active, company_id
		FROM policies
		WHERE is_active = 1
			AND ((scope = 'supplier' AND key = ?)
				OR (scope = 'company' AND company_id = ?)
				OR (scope = 'category' AND key = ?))
	`, query.SupplierKey, query.CompanyID, query.CategoryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var policies []model.Policy
	for rows.Next() {
		var p model.Policy
		var scope string
		var activeFrom, activeTo sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.Name, &scope, &p.Key, &p.RulesJSON, &p.Version,
			&activeFrom, &activeTo, &p.Active, &p.CompanyID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		p.Scope = model.PolicyScope(scope)
		if activeFrom.Valid {
			p.ActiveFrom = activeFrom.Time
		}
		if activeTo.Valid {
			p.ActiveTo = activeTo.Time
		}
		if !p.ActiveAt(at) {
			continue
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate policies: %w", err)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].ScopeRank() != policies[j].ScopeRank() {
			return policies[i].ScopeRank() < policies[j].ScopeRank()
		}
		return policies[i].Version > policies[j].Version
	})
	return policies, nil
}
