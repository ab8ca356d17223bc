package model

import (
	"encoding/json"
	"time"
)

// SuggestionType categorizes what an agent suggestion proposes.
type SuggestionType string

// Suggestion type constants.
const (
	SuggestionAccountingEntry SuggestionType = "accounting_entry"
	SuggestionClassification  SuggestionType = "classification"
	SuggestionEnrichment      SuggestionType = "enrichment"
	SuggestionValidation      SuggestionType = "validation"
	SuggestionReconciliation  SuggestionType = "reconciliation"
)

// Suggestion is a proposed booking produced by an agent, pending human
// judgment. Suggestions are immutable once created; there is no update path.
type Suggestion struct {
	CreatedAt     time.Time
	Type          SuggestionType
	Payload       json.RawMessage // structured suggestion details
	Explanation   string          // markdown rationale
	AgentName     string
	RequestID     string
	ID            int64
	CaseID        int64
	Confidence    float64 // 0..1
	RiskScore     float64 // 0..1
	RequiresHuman bool
}

// EntryLine is one booking line inside an accounting_entry payload.
type EntryLine struct {
	Account     string  `json:"account"`
	Description string  `json:"description,omitempty"`
	Debit       float64 `json:"debit"`
	Credit      float64 `json:"credit"`
}

// EntryPayload is the structured payload of an accounting_entry suggestion.
type EntryPayload struct {
	Lines          []EntryLine `json:"lines"`
	ExpenseAccount string      `json:"expense_account,omitempty"`
	Chart          string      `json:"skr_chart,omitempty"`
	Amount         float64     `json:"amount"`
	NetAmount      float64     `json:"net_amount,omitempty"`
	TaxAmount      float64     `json:"tax_amount,omitempty"`
	TaxRate        float64     `json:"tax_rate,omitempty"`
	PolicyMatched  bool        `json:"policy_matched,omitempty"`
}

// EntryPayload decodes the payload of an accounting_entry suggestion.
func (s *Suggestion) EntryPayload() (*EntryPayload, error) {
	var payload EntryPayload
	if err := json.Unmarshal(s.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ReconciliationMatch pairs one open debit line with one credit line.
type ReconciliationMatch struct {
	MatchType    string  `json:"match_type"`
	Reason       string  `json:"reason"`
	DebitLineID  int64   `json:"debit_line_id"`
	CreditLineID int64   `json:"credit_line_id"`
	Amount       float64 `json:"amount"`
	Confidence   float64 `json:"confidence"`
}

// ReconciliationPayload is the structured payload of a reconciliation
// suggestion: paired open items plus everything the matcher left open.
type ReconciliationPayload struct {
	Matches         []ReconciliationMatch `json:"matches"`
	UnmatchedDebit  []int64               `json:"unmatched_debit"`
	UnmatchedCredit []int64               `json:"unmatched_credit"`
}

// ReconciliationPayload decodes the payload of a reconciliation suggestion.
func (s *Suggestion) ReconciliationPayload() (*ReconciliationPayload, error) {
	var payload ReconciliationPayload
	if err := json.Unmarshal(s.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
