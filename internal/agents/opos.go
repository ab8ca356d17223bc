package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"aioffice/internal/model"
)

// Document number prefixes stripped when normalizing references.
var refPrefixes = regexp.MustCompile(`^(re|inv|rg|rnr)[-_]?`)

// Match confidence per strategy. Combined matches pin both amount and
// reference, reference-only matches may span partial payments.
const (
	confCombined    = 0.95
	confExactAmount = 0.80
	confReference   = 0.60
)

// OPOSAgent matches open debit and credit items for reconciliation
// (Offene-Posten-Abstimmung). Pure rule matching over the supplied open
// lines; every result needs a human to apply it.
type OPOSAgent struct{}

// NewOPOSAgent creates the open item matching agent.
func NewOPOSAgent() *OPOSAgent {
	return &OPOSAgent{}
}

// Run pairs the open lines from the case context and returns a single
// reconciliation suggestion. Strategies apply in priority order: amount
// plus reference, exact amount, reference only. Each line is used at
// most once.
func (a *OPOSAgent) Run(_ context.Context, req Request) ([]Suggestion, error) {
	m := newOposMatcher(req.Context.OpenLines)
	m.pass("combined", confCombined, func(d, c OpenItem) bool {
		return amountsEqual(d, c) && refsMatch(d.Ref, c.Ref)
	}, func(_ OpenItem, amount float64) string {
		return fmt.Sprintf("Exact amount (%.2f) and reference match.", amount)
	})
	m.pass("exact_amount", confExactAmount, func(d, c OpenItem) bool {
		return amountsEqual(d, c)
	}, func(_ OpenItem, amount float64) string {
		return fmt.Sprintf("Exact amount match (%.2f).", amount)
	})
	m.pass("reference", confReference, func(d, c OpenItem) bool {
		return refsMatch(d.Ref, c.Ref)
	}, func(d OpenItem, _ float64) string {
		return fmt.Sprintf("Reference match (%q).", d.Ref)
	})

	payload, err := json.Marshal(model.ReconciliationPayload{
		Matches:         m.matches,
		UnmatchedDebit:  m.unmatched(m.debits),
		UnmatchedCredit: m.unmatched(m.credits),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reconciliation payload: %w", err)
	}

	if len(m.matches) == 0 {
		return []Suggestion{
			{
				Type:          string(model.SuggestionReconciliation),
				Payload:       payload,
				Explanation:   "No matching open items found.",
				RequiresHuman: true,
				AgentName:     "opos_agent",
			},
		}, nil
	}

	var confSum float64
	for _, match := range m.matches {
		confSum += match.Confidence
	}
	avg := round2(confSum / float64(len(m.matches)))

	return []Suggestion{
		{
			Type:       string(model.SuggestionReconciliation),
			Payload:    payload,
			Confidence: avg,
			RiskScore:  round2(1.0 - avg),
			Explanation: fmt.Sprintf("Found %d match(es). %d debit and %d credit lines unmatched.",
				len(m.matches), len(m.unmatched(m.debits)), len(m.unmatched(m.credits))),
			RequiresHuman: true,
			AgentName:     "opos_agent",
		},
	}, nil
}

// oposMatcher accumulates matches over one run. Used lines are tracked
// so later, weaker strategies cannot pair them again.
type oposMatcher struct {
	used    map[int64]bool
	debits  []OpenItem
	credits []OpenItem
	matches []model.ReconciliationMatch
}

func newOposMatcher(lines []OpenItem) *oposMatcher {
	m := &oposMatcher{
		used:    make(map[int64]bool),
		matches: []model.ReconciliationMatch{},
	}
	for _, ln := range lines {
		switch {
		case ln.Balance > 0:
			m.debits = append(m.debits, ln)
		case ln.Balance < 0:
			m.credits = append(m.credits, ln)
		}
	}
	return m
}

// pass pairs each unused debit with the first unused credit the accept
// function approves.
func (m *oposMatcher) pass(matchType string, confidence float64, accept func(d, c OpenItem) bool, reason func(d OpenItem, amount float64) string) {
	for _, d := range m.debits {
		if m.used[d.ID] {
			continue
		}
		for _, c := range m.credits {
			if m.used[c.ID] || !accept(d, c) {
				continue
			}
			amount := math.Min(residual(d), residual(c))
			m.matches = append(m.matches, model.ReconciliationMatch{
				DebitLineID:  d.ID,
				CreditLineID: c.ID,
				Amount:       amount,
				MatchType:    matchType,
				Confidence:   confidence,
				Reason:       reason(d, amount),
			})
			m.used[d.ID] = true
			m.used[c.ID] = true
			break
		}
	}
}

func (m *oposMatcher) unmatched(lines []OpenItem) []int64 {
	ids := []int64{}
	for _, ln := range lines {
		if !m.used[ln.ID] {
			ids = append(ids, ln.ID)
		}
	}
	return ids
}

// residual is the open amount of a line, absolute.
func residual(ln OpenItem) float64 {
	if ln.AmountResidual != 0 {
		return math.Abs(ln.AmountResidual)
	}
	return math.Abs(ln.Balance)
}

func amountsEqual(d, c OpenItem) bool {
	return math.Abs(residual(d)-residual(c)) < 0.01
}

// refsMatch normalizes both references and accepts equality or
// containment either way, so "RE-00123" pairs with "re_00123".
func refsMatch(ref1, ref2 string) bool {
	norm1 := normalizeRef(ref1)
	norm2 := normalizeRef(ref2)
	if norm1 == "" || norm2 == "" {
		return false
	}
	return norm1 == norm2 || strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1)
}

func normalizeRef(ref string) string {
	norm := strings.ToLower(strings.TrimSpace(ref))
	norm = strings.NewReplacer("-", "", "_", "").Replace(norm)
	return refPrefixes.ReplaceAllString(norm, "")
}
