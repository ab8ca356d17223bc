package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"

	"aioffice/internal/common"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

// SKR03 input VAT accounts and their rates, and the contra accounts
// excluded from the net base.
var (
	ustvaTaxAccounts = map[string]float64{
		"1576": 0.19,
		"1571": 0.07,
	}
	ustvaContraAccounts = map[string]bool{
		"1600": true,
	}
)

// UStVA holds the aggregated Kennziffern of one advance VAT return
// (Umsatzsteuervoranmeldung) period.
type UStVA struct {
	Period  string  `json:"period"`
	Kz81    float64 `json:"kz81"`     // net base at 19%
	Kz86    float64 `json:"kz86"`     // net base at 7%
	Kz66    float64 `json:"kz66"`     // input VAT 19%
	Kz61    float64 `json:"kz61"`     // input VAT 7%
	Kz83    float64 `json:"kz83"`     // VAT prepayment
	Kz81Tax float64 `json:"kz81_tax"` // output VAT on the 19% base
	Kz86Tax float64 `json:"kz86_tax"` // output VAT on the 7% base
}

// UStVAReporter aggregates booked cases into the UStVA Kennziffern. Only
// posted and exported cases with a linked journal entry count.
type UStVAReporter struct {
	storage service.Storage
}

// NewUStVAReporter creates a tax reporter over the given storage.
func NewUStVAReporter(storage service.Storage) *UStVAReporter {
	return &UStVAReporter{storage: storage}
}

// Build aggregates the period's booked cases. Each case contributes the
// net and tax amounts of its best accounting entry, bucketed by tax
// rate. Cases without a usable entry are skipped.
func (r *UStVAReporter) Build(ctx context.Context, period string) (*UStVA, error) {
	cases, err := r.storage.ListCases(ctx, service.CaseFilter{
		States:     []model.CaseState{model.StatePosted, model.StateExported},
		PeriodFrom: period,
		PeriodTo:   period,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list booked cases: %w", err)
	}

	report := &UStVA{Period: period}
	counted := 0
	for i := range cases {
		c := &cases[i]
		if c.MoveID == 0 {
			continue
		}
		payload, err := bestEntry(ctx, r.storage, c.ID)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			slog.Warn("Case has no accounting entry, skipping", "case", c.Name)
			continue
		}

		net, tax, rate := entryTaxSplit(payload)
		switch rate {
		case 0.19:
			report.Kz81 += net
			report.Kz66 += tax
		case 0.07:
			report.Kz86 += net
			report.Kz61 += tax
		default:
			slog.Warn("Case has no recognizable tax rate, skipping", "case", c.Name)
			continue
		}
		counted++
	}
	if counted == 0 {
		return nil, fmt.Errorf("%w: no booked cases for period %s", common.ErrNotFound, period)
	}

	report.Kz81 = roundAmount(report.Kz81)
	report.Kz86 = roundAmount(report.Kz86)
	report.Kz66 = roundAmount(report.Kz66)
	report.Kz61 = roundAmount(report.Kz61)
	report.Kz81Tax = roundAmount(report.Kz81 * 0.19)
	report.Kz86Tax = roundAmount(report.Kz86 * 0.07)
	report.Kz83 = roundAmount(report.Kz81Tax + report.Kz86Tax - (report.Kz66 + report.Kz61))

	slog.Info("UStVA aggregated", "period", period, "cases", counted)
	return report, nil
}

// WriteCSV renders the period's UStVA as a semicolon separated
// Kennziffer table.
func (r *UStVAReporter) WriteCSV(ctx context.Context, w io.Writer, period string) (*UStVA, error) {
	report, err := r.Build(ctx, period)
	if err != nil {
		return nil, err
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	rows := [][]string{
		{"Kennziffer", "Bezeichnung", "Betrag"},
		{"81", "Steuerpflichtige Umsaetze 19%", fmt.Sprintf("%.2f", report.Kz81)},
		{"86", "Steuerpflichtige Umsaetze 7%", fmt.Sprintf("%.2f", report.Kz86)},
		{"66", "Vorsteuer 19%", fmt.Sprintf("%.2f", report.Kz66)},
		{"61", "Vorsteuer 7%", fmt.Sprintf("%.2f", report.Kz61)},
		{"83", "Vorauszahlung", fmt.Sprintf("%.2f", report.Kz83)},
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write report row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush report: %w", err)
	}
	return report, nil
}

// WriteJSON renders the period's UStVA as indented JSON.
func (r *UStVAReporter) WriteJSON(ctx context.Context, w io.Writer, period string) (*UStVA, error) {
	report, err := r.Build(ctx, period)
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return report, nil
}

// entryTaxSplit sums an entry's net and tax sides and determines the tax
// rate, from the payload first and the tax account as fallback.
func entryTaxSplit(payload *model.EntryPayload) (net, tax, rate float64) {
	rate = payload.TaxRate
	for _, line := range payload.Lines {
		amount := line.Debit
		if amount == 0 {
			amount = line.Credit
		}
		switch {
		case ustvaTaxAccounts[line.Account] != 0:
			tax += amount
			if rate == 0 {
				rate = ustvaTaxAccounts[line.Account]
			}
		case ustvaContraAccounts[line.Account]:
		default:
			net += amount
		}
	}
	return net, tax, rate
}

func roundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
