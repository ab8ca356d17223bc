package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"aioffice/internal/agents"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

// Escalation defaults applied when the matched policy does not set its own
// thresholds.
const (
	defaultConfidenceThreshold = 0.8
	defaultRiskScoreMax        = 0.3
)

// Orchestrate runs the remote agent pipeline for a case and applies the
// outcome. A case in state new is enriched first. Returned suggestions
// are attached, then the case is proposed, or flagged when the best
// suggestion falls outside policy thresholds. A transport or agent
// failure fails the case and surfaces as an OrchestrationError.
func (e *Engine) Orchestrate(ctx context.Context, actorName string, caseID int64) (*model.Case, error) {
	if e.client == nil {
		return nil, fmt.Errorf("no orchestrator client configured")
	}

	c, err := e.storage.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.State != model.StateNew && c.State != model.StateEnriched {
		return nil, &TransitionError{CaseID: caseID, Action: "orchestrate", State: c.State}
	}

	if c.State == model.StateNew {
		if c, err = e.Enrich(ctx, actorName, caseID); err != nil {
			return nil, err
		}
	}

	requestID := uuid.NewString()
	policies, rules, err := e.matchPolicies(ctx, c)
	if err != nil {
		return nil, err
	}
	req := agents.Request{
		RequestID: requestID,
		CaseID:    c.ID,
		Context:   buildContext(c, policies),
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	resp, err := e.client.Orchestrate(callCtx, req)
	cancel()
	if err != nil {
		slog.Error("Orchestration failed", "case", c.Name, "request_id", requestID, "error", err)
		failed, failErr := e.transitionWith(ctx, actorName, caseID, ActionFail, transitionOpts{
			extraAfter: map[string]any{"cause": err.Error()},
			requestID:  requestID,
		})
		if failErr != nil {
			slog.Error("Failed to mark case failed", "case", c.Name, "error", failErr)
		} else {
			c = failed
		}
		return c, &OrchestrationError{CaseID: caseID, RequestID: requestID, State: c.State, Err: err}
	}

	added := 0
	for _, ws := range resp.Suggestions {
		s := &model.Suggestion{
			CaseID:        c.ID,
			Type:          model.SuggestionType(ws.Type),
			Payload:       ws.Payload,
			Confidence:    ws.Confidence,
			RiskScore:     ws.RiskScore,
			Explanation:   ws.Explanation,
			RequiresHuman: ws.RequiresHuman,
			AgentName:     ws.AgentName,
			RequestID:     requestID,
		}
		if _, err := e.AttachSuggestion(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to attach suggestion: %w", err)
		}
		added++
	}

	if reason := escalationReason(resp.Suggestions, rules); reason != "" {
		return e.transitionWith(ctx, actorName, caseID, ActionFlag, transitionOpts{
			extraAfter: map[string]any{"reason": reason, "suggestions_added": added},
			requestID:  requestID,
		})
	}

	return e.transitionWith(ctx, actorName, caseID, ActionPropose, transitionOpts{
		auditAction: "orchestrate",
		extraAfter:  map[string]any{"suggestions_added": added},
		requestID:   requestID,
	})
}

// matchPolicies loads the policies active now for the case's supplier and
// company, and decodes the rules of the best match. Supplier policies win
// over company policies.
func (e *Engine) matchPolicies(ctx context.Context, c *model.Case) ([]model.Policy, model.PolicyRules, error) {
	query := service.PolicyQuery{
		At:          time.Now(),
		SupplierKey: SupplierKey(c.PartnerName),
		CompanyID:   c.CompanyID,
	}
	policies, err := e.storage.GetPolicies(ctx, query)
	if err != nil {
		return nil, model.PolicyRules{}, fmt.Errorf("failed to load policies: %w", err)
	}

	var rules model.PolicyRules
	if len(policies) > 0 {
		// GetPolicies orders by scope rank, best match first.
		if rules, err = policies[0].Rules(); err != nil {
			return nil, model.PolicyRules{}, fmt.Errorf("failed to decode policy rules: %w", err)
		}
	}
	return policies, rules, nil
}

// SupplierKey normalizes a partner name into a policy lookup key.
func SupplierKey(partnerName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(partnerName)), " ", "-")
}

func buildContext(c *model.Case, policies []model.Policy) agents.CaseContext {
	cc := agents.CaseContext{
		PartnerName: c.PartnerName,
		PartnerID:   c.PartnerID,
		CompanyID:   c.CompanyID,
		Period:      c.Period,
	}
	for i := range policies {
		rules, err := policies[i].Rules()
		if err != nil {
			continue
		}
		cc.Policies = append(cc.Policies, agents.PolicyRef{
			Scope: string(policies[i].Scope),
			Key:   policies[i].Key,
			Rules: rules,
		})
	}
	return cc
}

// escalationReason decides whether the orchestration outcome needs human
// attention instead of an automatic proposal. It inspects the best
// accounting entry suggestion against the policy thresholds.
func escalationReason(suggestions []agents.Suggestion, rules model.PolicyRules) string {
	confThreshold := rules.ConfidenceThreshold
	if confThreshold == 0 {
		confThreshold = defaultConfidenceThreshold
	}
	riskMax := rules.RiskScoreMax
	if riskMax == 0 {
		riskMax = defaultRiskScoreMax
	}

	best := -1
	for i, s := range suggestions {
		if s.Type != string(model.SuggestionAccountingEntry) {
			continue
		}
		if best < 0 || s.Confidence > suggestions[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return "no accounting entry suggestion produced"
	}

	s := suggestions[best]
	if s.Confidence < confThreshold {
		return fmt.Sprintf("confidence %.2f below policy threshold %.2f", s.Confidence, confThreshold)
	}
	if s.RiskScore > riskMax {
		return fmt.Sprintf("risk score %.2f above policy maximum %.2f", s.RiskScore, riskMax)
	}
	return ""
}
