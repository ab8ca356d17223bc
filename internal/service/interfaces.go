// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"aioffice/internal/model"
)

// CaseFilter defines filtering options for case queries.
type CaseFilter struct {
	States     []model.CaseState
	PeriodFrom string
	PeriodTo   string
	Limit      int
	Offset     int
}

// PolicyQuery identifies the scope keys to match policies against.
type PolicyQuery struct {
	At          time.Time
	SupplierKey string
	CategoryKey string
	CompanyID   int64
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Case operations
	CreateCase(ctx context.Context, c *model.Case) (*model.Case, error)
	GetCase(ctx context.Context, id int64) (*model.Case, error)
	GetCaseByName(ctx context.Context, name string) (*model.Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]model.Case, error)
	UpdateCaseState(ctx context.Context, id int64, state model.CaseState) error
	SetCaseMove(ctx context.Context, id, moveID int64) error
	DeleteCase(ctx context.Context, id int64) error

	// Suggestion operations; suggestions are immutable once saved
	SaveSuggestion(ctx context.Context, s *model.Suggestion) (*model.Suggestion, error)
	GetSuggestions(ctx context.Context, caseID int64) ([]model.Suggestion, error)
	CountSuggestions(ctx context.Context, caseID int64) (int, error)

	// Audit operations; the log is append-only and deletion requires
	// the compliance bypass identity
	AppendAuditEntry(ctx context.Context, e *model.AuditEntry) (*model.AuditEntry, error)
	GetAuditEntries(ctx context.Context, caseID int64) ([]model.AuditEntry, error)
	GetAuditEntriesByDateRange(ctx context.Context, start, end time.Time) ([]model.AuditEntry, error)
	DeleteAuditEntry(ctx context.Context, entryID int64, actor model.Actor) error

	// Policy operations
	SavePolicy(ctx context.Context, p *model.Policy) (*model.Policy, error)
	GetPolicies(ctx context.Context, query PolicyQuery) ([]model.Policy, error)

	// Actor operations
	SaveActor(ctx context.Context, a model.Actor) error
	GetActor(ctx context.Context, name string) (*model.Actor, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
