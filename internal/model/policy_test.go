package model

import (
	"testing"
	"time"
)

func TestPolicyActiveAt(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		policy Policy
		want   bool
	}{
		{
			name:   "open window",
			policy: Policy{Active: true},
			want:   true,
		},
		{
			name:   "inactive flag wins",
			policy: Policy{Active: false},
			want:   false,
		},
		{
			name: "inside window",
			policy: Policy{
				Active:     true,
				ActiveFrom: now.AddDate(0, -1, 0),
				ActiveTo:   now.AddDate(0, 1, 0),
			},
			want: true,
		},
		{
			name: "before window",
			policy: Policy{
				Active:     true,
				ActiveFrom: now.AddDate(0, 1, 0),
			},
			want: false,
		},
		{
			name: "after window",
			policy: Policy{
				Active:   true,
				ActiveTo: now.AddDate(0, -1, 0),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ActiveAt(now); got != tt.want {
				t.Errorf("ActiveAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicyRules(t *testing.T) {
	p := Policy{RulesJSON: `{"default_account":"4930","confidence_threshold":0.85,"risk_score_max":0.2}`}
	rules, err := p.Rules()
	if err != nil {
		t.Fatalf("Rules() error: %v", err)
	}
	if rules.DefaultAccount != "4930" {
		t.Errorf("DefaultAccount = %q, want 4930", rules.DefaultAccount)
	}
	if rules.ConfidenceThreshold != 0.85 {
		t.Errorf("ConfidenceThreshold = %v, want 0.85", rules.ConfidenceThreshold)
	}

	empty := Policy{}
	rules, err = empty.Rules()
	if err != nil {
		t.Fatalf("Rules() on empty payload: %v", err)
	}
	if rules.DefaultAccount != "" {
		t.Errorf("empty payload should yield zero rules")
	}
}

func TestPolicyScopeRank(t *testing.T) {
	supplier := Policy{Scope: ScopeSupplier}
	company := Policy{Scope: ScopeCompany}
	category := Policy{Scope: ScopeCategory}

	if !(supplier.ScopeRank() < company.ScopeRank() && company.ScopeRank() < category.ScopeRank()) {
		t.Error("scope ranking must order supplier < company < category")
	}
}

func TestCaseStateValid(t *testing.T) {
	for _, s := range AllStates {
		if !s.Valid() {
			t.Errorf("declared state %q reported invalid", s)
		}
	}
	if CaseState("draft").Valid() {
		t.Error("undeclared state reported valid")
	}
	if StateNeedsAttention.Terminal() || StateFailed.Terminal() {
		t.Error("needs_attention and failed are resettable, not terminal")
	}
	if !StateExported.Terminal() {
		t.Error("exported is terminal")
	}
}
