package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"aioffice/internal/agents"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

// Reconcile runs open item matching for a posted case. The returned
// reconciliation suggestions are attached and the run is audited under
// opos_match; the case stays posted. A booked journal entry must be
// linked first. A transport or agent failure surfaces as an
// OrchestrationError without touching the case.
func (e *Engine) Reconcile(ctx context.Context, actorName string, caseID int64, openLines []agents.OpenItem) ([]model.Suggestion, error) {
	if e.client == nil {
		return nil, fmt.Errorf("no orchestrator client configured")
	}
	actor, err := e.resolveActor(ctx, actorName)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.acquire(caseID)
	defer unlock()

	c, err := e.storage.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.State != model.StatePosted {
		return nil, &TransitionError{CaseID: caseID, Action: "opos_match", State: c.State}
	}
	if c.MoveID == 0 {
		return nil, &TransitionError{CaseID: caseID, Action: "opos_match", State: c.State,
			Reason: "no journal entry linked"}
	}

	requestID := uuid.NewString()
	req := agents.Request{
		RequestID: requestID,
		CaseID:    c.ID,
		Context: agents.CaseContext{
			PartnerName: c.PartnerName,
			PartnerID:   c.PartnerID,
			CompanyID:   c.CompanyID,
			Period:      c.Period,
			OpenLines:   openLines,
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	resp, err := e.client.MatchOpenItems(callCtx, req)
	cancel()
	if err != nil {
		slog.Error("Open item matching failed", "case", c.Name, "request_id", requestID, "error", err)
		return nil, &OrchestrationError{CaseID: caseID, RequestID: requestID, State: c.State, Err: err}
	}

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var saved []model.Suggestion
	matches := 0
	for _, ws := range resp.Suggestions {
		s, err := tx.SaveSuggestion(ctx, &model.Suggestion{
			CaseID:        c.ID,
			Type:          model.SuggestionType(ws.Type),
			Payload:       ws.Payload,
			Confidence:    ws.Confidence,
			RiskScore:     ws.RiskScore,
			Explanation:   ws.Explanation,
			RequiresHuman: ws.RequiresHuman,
			AgentName:     ws.AgentName,
			RequestID:     requestID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save reconciliation suggestion: %w", err)
		}
		saved = append(saved, *s)
		if payload, err := s.ReconciliationPayload(); err == nil {
			matches += len(payload.Matches)
		}
	}

	if err := appendStaticAudit(ctx, tx, c, actor, "opos_match", requestID, map[string]any{
		"suggestions_added": len(saved),
		"matches":           matches,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation: %w", err)
	}

	slog.Info("Open items matched",
		"case", c.Name,
		"request_id", requestID,
		"suggestions", len(saved),
		"matches", matches)
	return saved, nil
}

// ApplyReconciliation confirms a case's reconciliation suggestions and
// records the application under reconciliation_applied. The case must be
// posted, carry at least one reconciliation suggestion, and the actor
// needs the approver capability.
func (e *Engine) ApplyReconciliation(ctx context.Context, actorName string, caseID int64) (*model.Case, error) {
	actor, err := e.resolveActor(ctx, actorName)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.acquire(caseID)
	defer unlock()

	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := tx.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.State != model.StatePosted {
		return nil, &TransitionError{CaseID: caseID, Action: "reconciliation_applied", State: c.State}
	}
	if !actor.CanApprove() {
		return nil, &AuthorizationError{CaseID: caseID, Actor: actor.Name, Action: "reconciliation_applied", State: c.State}
	}

	suggestions, err := tx.GetSuggestions(ctx, caseID)
	if err != nil {
		return nil, err
	}
	applied := 0
	for i := range suggestions {
		if suggestions[i].Type == model.SuggestionReconciliation {
			applied++
		}
	}
	if applied == 0 {
		return nil, &TransitionError{CaseID: caseID, Action: "reconciliation_applied", State: c.State,
			Reason: "no reconciliation suggestions attached"}
	}

	if err := appendStaticAudit(ctx, tx, c, actor, "reconciliation_applied", "", map[string]any{
		"suggestions_applied": applied,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconciliation application: %w", err)
	}

	slog.Info("Reconciliation applied", "case", c.Name, "actor", actor.Name, "suggestions", applied)
	return c, nil
}

// appendStaticAudit records an audited action that leaves the case state
// in place.
func appendStaticAudit(ctx context.Context, tx service.Transaction, c *model.Case, actor model.Actor, action, requestID string, extra map[string]any) error {
	beforeJSON, afterJSON, err := auditSnapshots(c.State, c.State, extra)
	if err != nil {
		return err
	}
	if _, err := tx.AppendAuditEntry(ctx, &model.AuditEntry{
		CaseID:     c.ID,
		ActorType:  model.ActorUser,
		Actor:      actor.Name,
		Action:     action,
		BeforeJSON: beforeJSON,
		AfterJSON:  afterJSON,
		RequestID:  requestID,
	}); err != nil {
		return err
	}
	return nil
}
