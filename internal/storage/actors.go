package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aioffice/internal/common"
	"aioffice/internal/model"
)

// SaveActor upserts an actor's capability level.
func (s *SQLiteStorage) SaveActor(ctx context.Context, a model.Actor) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(a.Name, "actor name"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveActorTx(ctx, tx, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) saveActorTx(ctx context.Context, tx *sql.Tx, a model.Actor) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO actors (name, role) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET role = excluded.role
	`, a.Name, a.Role.String())
	if err != nil {
		return fmt.Errorf("failed to save actor: %w", err)
	}
	return nil
}

// GetActor looks up an actor by name.
func (s *SQLiteStorage) GetActor(ctx context.Context, name string) (*model.Actor, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	return scanActor(s.db.QueryRowContext(ctx, `SELECT name, role FROM actors WHERE name = ?`, name))
}

func (s *SQLiteStorage) getActorTx(ctx context.Context, tx *sql.Tx, name string) (*model.Actor, error) {
	return scanActor(tx.QueryRowContext(ctx, `SELECT name, role FROM actors WHERE name = ?`, name))
}

func scanActor(row *sql.Row) (*model.Actor, error) {
	var a model.Actor
	var role string
	err := row.Scan(&a.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: actor", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan actor: %w", err)
	}
	parsed, ok := model.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("actor %q has unknown role %q", a.Name, role)
	}
	a.Role = parsed
	return &a, nil
}
