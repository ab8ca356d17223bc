package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"aioffice/internal/model"
)

// Valid SKR03 account code ranges.
var validSKR03Ranges = [][2]int{
	{200, 999},   // Anlagevermögen
	{1000, 1999}, // Finanz- und Privatkonten
	{2000, 2999}, // Abgrenzungskonten
	{3000, 3999}, // Wareneingang/Bestand
	{4000, 4999}, // Betriebliche Aufwendungen
	{6000, 6999}, // Betriebliche Aufwendungen (Fortsetzung)
	{7000, 7999}, // Bestände
	{8000, 8999}, // Erlöse
	{9000, 9999}, // Vortrags-/Statistische Konten
}

// Default policy thresholds when no policy overrides them.
const (
	defaultConfidenceThreshold = 0.8
	defaultRiskScoreMax        = 0.3
)

// ValidationAgent checks accounting entry suggestions against compliance
// rules: balanced lines, valid account codes, policy thresholds. Runs after
// the KontierungsAgent in the orchestrator pipeline.
type ValidationAgent struct{}

// NewValidationAgent creates the validation agent.
func NewValidationAgent() *ValidationAgent {
	return &ValidationAgent{}
}

// validationPayload is the payload of a validation-type suggestion.
type validationPayload struct {
	Status   string   `json:"status"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate inspects the entry suggestions and returns one validation-type
// suggestion summarizing the findings.
func (a *ValidationAgent) Validate(_ context.Context, req Request, suggestions []Suggestion) ([]Suggestion, error) {
	var errs, warnings []string

	var entries []Suggestion
	for _, s := range suggestions {
		if s.Type == string(model.SuggestionAccountingEntry) {
			entries = append(entries, s)
		}
	}

	if len(entries) == 0 {
		errs = append(errs, "No accounting entry suggestion to validate.")
		result, err := a.buildResult(errs, warnings, false)
		if err != nil {
			return nil, err
		}
		return []Suggestion{result}, nil
	}

	for _, entry := range entries {
		var payload model.EntryPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			errs = append(errs, fmt.Sprintf("Entry payload is not decodable: %v", err))
			continue
		}
		a.checkLinesComplete(payload.Lines, &errs, &warnings)
		a.checkBalanced(payload.Lines, &errs)
		a.checkAccountCodes(payload.Lines, &warnings)
		a.checkThresholds(entry, req.Context.Policies, &errs, &warnings)
	}

	passed := len(errs) == 0
	result, err := a.buildResult(errs, warnings, passed)
	if err != nil {
		return nil, err
	}
	return []Suggestion{result}, nil
}

// checkLinesComplete requires every line to have an account and a nonzero
// debit or credit.
func (a *ValidationAgent) checkLinesComplete(lines []model.EntryLine, errs, warnings *[]string) {
	for i, line := range lines {
		if line.Account == "" {
			*errs = append(*errs, fmt.Sprintf("Line %d: missing account code.", i+1))
		}
		if line.Debit <= 0 && line.Credit <= 0 {
			*errs = append(*errs, fmt.Sprintf("Line %d: debit or credit must be > 0.", i+1))
		}
		if line.Description == "" {
			*warnings = append(*warnings, fmt.Sprintf("Line %d: missing description.", i+1))
		}
	}
}

// checkBalanced requires the sum of debits to equal the sum of credits.
func (a *ValidationAgent) checkBalanced(lines []model.EntryLine, errs *[]string) {
	var totalDebit, totalCredit float64
	for _, line := range lines {
		totalDebit += line.Debit
		totalCredit += line.Credit
	}
	if math.Abs(totalDebit-totalCredit) > 0.01 {
		*errs = append(*errs, fmt.Sprintf("Entry not balanced: debit=%.2f, credit=%.2f", totalDebit, totalCredit))
	}
}

// checkAccountCodes warns about accounts outside the SKR03 ranges.
func (a *ValidationAgent) checkAccountCodes(lines []model.EntryLine, warnings *[]string) {
	for i, line := range lines {
		code, err := strconv.Atoi(line.Account)
		if err != nil {
			*warnings = append(*warnings, fmt.Sprintf("Line %d: account '%s' is not a valid number.", i+1, line.Account))
			continue
		}
		inRange := false
		for _, r := range validSKR03Ranges {
			if code >= r[0] && code <= r[1] {
				inRange = true
				break
			}
		}
		if !inRange {
			*warnings = append(*warnings, fmt.Sprintf("Line %d: account '%s' outside SKR03 ranges.", i+1, line.Account))
		}
	}
}

// checkThresholds compares confidence and risk against policy thresholds.
func (a *ValidationAgent) checkThresholds(entry Suggestion, policies []PolicyRef, errs, warnings *[]string) {
	confidenceThreshold := defaultConfidenceThreshold
	riskScoreMax := defaultRiskScoreMax
	for _, policy := range policies {
		if policy.Rules.ConfidenceThreshold > 0 {
			confidenceThreshold = policy.Rules.ConfidenceThreshold
		}
		if policy.Rules.RiskScoreMax > 0 {
			riskScoreMax = policy.Rules.RiskScoreMax
		}
	}

	if entry.Confidence < confidenceThreshold {
		*warnings = append(*warnings, fmt.Sprintf("Confidence %.2f below threshold %.2f.", entry.Confidence, confidenceThreshold))
	}
	if entry.RiskScore > riskScoreMax {
		*errs = append(*errs, fmt.Sprintf("Risk score %.2f exceeds maximum %.2f.", entry.RiskScore, riskScoreMax))
	}
}

func (a *ValidationAgent) buildResult(errs, warnings []string, passed bool) (Suggestion, error) {
	status := "fail"
	if passed {
		status = "pass"
	}

	var parts []string
	if len(errs) > 0 {
		parts = append(parts, "**Errors:**\n- "+strings.Join(errs, "\n- "))
	}
	if len(warnings) > 0 {
		parts = append(parts, "**Warnings:**\n- "+strings.Join(warnings, "\n- "))
	}
	if len(parts) == 0 {
		parts = append(parts, "All validation checks passed.")
	}

	payload, err := json.Marshal(validationPayload{
		Status:   status,
		Errors:   errs,
		Warnings: warnings,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("failed to encode validation payload: %w", err)
	}

	confidence := 0.0
	riskScore := 1.0
	if passed {
		confidence = 1.0
		riskScore = 0.0
	}

	return Suggestion{
		Type:          string(model.SuggestionValidation),
		Payload:       payload,
		Confidence:    confidence,
		RiskScore:     riskScore,
		Explanation:   strings.Join(parts, "\n\n"),
		RequiresHuman: !passed,
		AgentName:     "validation_agent",
	}, nil
}
