package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"aioffice/internal/model"
)

// SKR03 common expense accounts.
var skr03Accounts = map[string]string{
	"6300": "Sonstige betriebliche Aufwendungen",
	"4400": "Erlöse 19% USt",
	"4910": "Fremdleistungen",
	"4200": "Raumkosten",
	"4500": "Fahrzeugkosten",
	"4600": "Werbekosten",
	"4650": "Bewirtungskosten",
	"4800": "Reparaturen und Instandhaltung",
	"4900": "Verschiedene betriebliche Aufwendungen",
	"4930": "Bürobedarf",
	"4940": "Zeitschriften und Bücher",
	"4946": "EDV-Kosten",
	"4950": "Rechts- und Beratungskosten",
	"4955": "Buchführungskosten",
	"4960": "Miete für Geschäftsräume",
	"4970": "Nebenkosten des Geldverkehrs",
	"6800": "Abschreibungen",
}

// Standard accounts.
const (
	accountVorsteuer19       = "1576" // Abziehbare Vorsteuer 19%
	accountVorsteuer7        = "1571" // Abziehbare Vorsteuer 7%
	accountVerbindlichkeiten = "1600" // Verbindlichkeiten aus L.u.L.
	accountFallbackExpense   = "6300" // Sonstige betriebliche Aufwendungen
)

// KontierungsAgent assigns accounts using the SKR03 chart: supplier and
// company policies first, rule-based defaults otherwise. No LLM involved;
// the suggestions stay rule-based and a human approves every booking.
type KontierungsAgent struct{}

// NewKontierungsAgent creates the account assignment agent.
func NewKontierungsAgent() *KontierungsAgent {
	return &KontierungsAgent{}
}

// Run generates an accounting entry suggestion from the case context.
func (a *KontierungsAgent) Run(_ context.Context, req Request) ([]Suggestion, error) {
	cc := req.Context
	amountTotal := cc.AmountTotal
	taxRate := cc.TaxRate
	if taxRate == 0 {
		taxRate = 0.19
	}

	expenseAccount, policyMatched := a.matchPolicy(cc.Policies)

	var netAmount, taxAmount float64
	if amountTotal > 0 {
		netAmount = round2(amountTotal / (1 + taxRate))
		taxAmount = round2(amountTotal - netAmount)
	} else {
		netAmount = 100.00
		taxAmount = 19.00
		amountTotal = 119.00
	}

	vorsteuerAccount := accountVorsteuer19
	if taxRate < 0.19 {
		vorsteuerAccount = accountVorsteuer7
	}

	lines := []model.EntryLine{
		{
			Account:     expenseAccount,
			Debit:       netAmount,
			Description: accountDescription(expenseAccount),
		},
		{
			Account:     vorsteuerAccount,
			Debit:       taxAmount,
			Description: fmt.Sprintf("Vorsteuer %d%%", int(taxRate*100)),
		},
		{
			Account:     accountVerbindlichkeiten,
			Credit:      amountTotal,
			Description: fmt.Sprintf("Verbindlichkeiten %s", cc.PartnerName),
		},
	}

	var confidence, riskScore float64
	var explanation string
	switch {
	case policyMatched:
		confidence = 0.92
		riskScore = 0.05
		explanation = fmt.Sprintf("Kontierung via Supplier-Policy: Konto %s", expenseAccount)
	case cc.AmountTotal > 0:
		confidence = 0.75
		riskScore = 0.15
		explanation = fmt.Sprintf("Regelbasierte Kontierung (SKR03): Konto %s", expenseAccount)
	default:
		confidence = 0.55
		riskScore = 0.30
		explanation = fmt.Sprintf("Fallback-Kontierung: Konto %s (kein Betrag erkannt)", expenseAccount)
	}

	payload, err := json.Marshal(model.EntryPayload{
		Lines:          lines,
		Amount:         amountTotal,
		NetAmount:      netAmount,
		TaxAmount:      taxAmount,
		TaxRate:        taxRate,
		ExpenseAccount: expenseAccount,
		Chart:          "SKR03",
		PolicyMatched:  policyMatched,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry payload: %w", err)
	}

	return []Suggestion{
		{
			Type:          string(model.SuggestionAccountingEntry),
			Payload:       payload,
			Confidence:    confidence,
			RiskScore:     riskScore,
			Explanation:   explanation,
			RequiresHuman: !policyMatched,
			AgentName:     "kontierung_agent",
		},
	}, nil
}

// matchPolicy determines the expense account from the context policies.
// Priority: supplier policy > company policy > SKR03 fallback.
func (a *KontierungsAgent) matchPolicy(policies []PolicyRef) (string, bool) {
	for _, scope := range []string{"supplier", "company", "category"} {
		for _, policy := range policies {
			if policy.Scope == scope && policy.Rules.DefaultAccount != "" {
				return policy.Rules.DefaultAccount, true
			}
		}
	}
	return accountFallbackExpense, false
}

func accountDescription(account string) string {
	if desc, ok := skr03Accounts[account]; ok {
		return desc
	}
	return "Aufwand"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
