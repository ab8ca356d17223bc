package model

import (
	"encoding/json"
	"time"
)

// PolicyScope determines what a policy's key refers to.
type PolicyScope string

// Policy scope constants.
const (
	ScopeCompany  PolicyScope = "company"
	ScopeSupplier PolicyScope = "supplier"
	ScopeCategory PolicyScope = "category"
)

// Policy is a versioned rule set consulted (never mutated) during
// enrichment and escalation. Policies activate inside a date window and
// are looked up by scope keys; supplier policies rank before company
// policies which rank before category policies.
type Policy struct {
	ActiveFrom time.Time
	ActiveTo   time.Time
	Name       string
	Scope      PolicyScope
	Key        string
	RulesJSON  string
	ID         int64
	CompanyID  int64
	Version    int
	Active     bool
}

// PolicyRules is the decoded rules payload of a policy.
type PolicyRules struct {
	DefaultAccount      string  `json:"default_account,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	RiskScoreMax        float64 `json:"risk_score_max,omitempty"`
}

// Rules decodes the policy's rule payload. An empty payload yields zero rules.
func (p *Policy) Rules() (PolicyRules, error) {
	var rules PolicyRules
	if p.RulesJSON == "" {
		return rules, nil
	}
	err := json.Unmarshal([]byte(p.RulesJSON), &rules)
	return rules, err
}

// ActiveAt reports whether the policy applies at the given time. A zero
// ActiveFrom or ActiveTo leaves that side of the window open.
func (p *Policy) ActiveAt(t time.Time) bool {
	if !p.Active {
		return false
	}
	if !p.ActiveFrom.IsZero() && t.Before(p.ActiveFrom) {
		return false
	}
	if !p.ActiveTo.IsZero() && t.After(p.ActiveTo) {
		return false
	}
	return true
}

// ScopeRank orders policies for matching: supplier first, then company,
// then category.
func (p *Policy) ScopeRank() int {
	switch p.Scope {
	case ScopeSupplier:
		return 0
	case ScopeCompany:
		return 1
	default:
		return 2
	}
}
