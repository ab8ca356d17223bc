// Package agents implements the suggestion-producing agents behind the
// orchestrator, together with the wire types of the /v1/orchestrate
// contract that the HTTP server and client share.
package agents

import (
	"context"
	"encoding/json"

	"aioffice/internal/model"
)

// PolicyRef is a policy snapshot passed along in the orchestration context.
type PolicyRef struct {
	Scope string            `json:"scope"`
	Key   string            `json:"key,omitempty"`
	Rules model.PolicyRules `json:"rules"`
}

// OpenItem is one open debit or credit ledger line handed to the open
// item matcher. Balance carries the sign; AmountResidual the part still
// open, falling back to the balance when absent.
type OpenItem struct {
	Date           string  `json:"date,omitempty"`
	Ref            string  `json:"ref,omitempty"`
	Name           string  `json:"name,omitempty"`
	ID             int64   `json:"id"`
	Balance        float64 `json:"balance"`
	AmountResidual float64 `json:"amount_residual,omitempty"`
}

// CaseContext carries what is known about a case into the agent run.
type CaseContext struct {
	PartnerName string      `json:"partner_name,omitempty"`
	Period      string      `json:"period,omitempty"`
	Policies    []PolicyRef `json:"policies,omitempty"`
	OpenLines   []OpenItem  `json:"open_lines,omitempty"`
	PartnerID   int64       `json:"partner_id,omitempty"`
	CompanyID   int64       `json:"company_id,omitempty"`
	AmountTotal float64     `json:"amount_total,omitempty"`
	TaxRate     float64     `json:"tax_rate,omitempty"`
}

// Empty reports whether no usable context was provided.
func (c CaseContext) Empty() bool {
	return c.PartnerName == "" && c.PartnerID == 0 && c.AmountTotal == 0 && len(c.Policies) == 0
}

// Request is the body of POST /v1/orchestrate.
type Request struct {
	RequestID string      `json:"request_id"`
	Context   CaseContext `json:"context"`
	CaseID    int64       `json:"case_id"`
}

// Suggestion is one proposed booking in the orchestrate response.
type Suggestion struct {
	Type          string          `json:"suggestion_type"`
	Payload       json.RawMessage `json:"payload"`
	Explanation   string          `json:"explanation"`
	AgentName     string          `json:"agent_name"`
	Confidence    float64         `json:"confidence"`
	RiskScore     float64         `json:"risk_score"`
	RequiresHuman bool            `json:"requires_human"`
}

// Response is the body returned by POST /v1/orchestrate.
type Response struct {
	RequestID   string       `json:"request_id"`
	Status      string       `json:"status"`
	Suggestions []Suggestion `json:"suggestions"`
	CaseID      int64        `json:"case_id"`
}

// Agent produces suggestions for a case from its context.
type Agent interface {
	Run(ctx context.Context, req Request) ([]Suggestion, error)
}
