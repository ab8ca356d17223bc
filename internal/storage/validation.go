package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aioffice/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrNilParameter      = errors.New("parameter cannot be nil")
	ErrInvalidDateRange  = errors.New("start date must be before end date")
	ErrInvalidState      = errors.New("invalid case state")
	ErrInvalidCase       = errors.New("invalid case")
	ErrInvalidSuggestion = errors.New("invalid suggestion")
	ErrInvalidAudit      = errors.New("invalid audit entry")
	ErrInvalidPolicy     = errors.New("invalid policy")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateState ensures the state is one of the declared set.
func validateState(state model.CaseState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, state)
	}
	return nil
}

// validateCase validates a case before persistence.
func validateCase(c *model.Case) error {
	if c == nil {
		return fmt.Errorf("%w: case", ErrNilParameter)
	}
	if c.State != "" {
		if err := validateState(c.State); err != nil {
			return err
		}
	}
	if c.CompanyID < 0 {
		return fmt.Errorf("%w: negative company id", ErrInvalidCase)
	}
	return nil
}

// validateSuggestion validates a suggestion before persistence.
func validateSuggestion(s *model.Suggestion) error {
	if s == nil {
		return fmt.Errorf("%w: suggestion", ErrNilParameter)
	}
	if s.CaseID == 0 {
		return fmt.Errorf("%w: missing case id", ErrInvalidSuggestion)
	}
	if s.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidSuggestion)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSuggestion, s.Confidence)
	}
	if s.RiskScore < 0 || s.RiskScore > 1 {
		return fmt.Errorf("%w: risk score %v outside [0,1]", ErrInvalidSuggestion, s.RiskScore)
	}
	return nil
}

// validateAuditEntry validates an audit entry before persistence.
func validateAuditEntry(e *model.AuditEntry) error {
	if e == nil {
		return fmt.Errorf("%w: audit entry", ErrNilParameter)
	}
	if e.CaseID == 0 {
		return fmt.Errorf("%w: missing case id", ErrInvalidAudit)
	}
	if e.Actor == "" {
		return fmt.Errorf("%w: missing actor", ErrInvalidAudit)
	}
	if e.Action == "" {
		return fmt.Errorf("%w: missing action", ErrInvalidAudit)
	}
	if e.ActorType != model.ActorUser && e.ActorType != model.ActorAgent {
		return fmt.Errorf("%w: unknown actor type %q", ErrInvalidAudit, e.ActorType)
	}
	return nil
}

// validatePolicy validates a policy before persistence.
func validatePolicy(p *model.Policy) error {
	if p == nil {
		return fmt.Errorf("%w: policy", ErrNilParameter)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidPolicy)
	}
	switch p.Scope {
	case model.ScopeCompany, model.ScopeSupplier, model.ScopeCategory:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidPolicy, p.Scope)
	}
	return nil
}
