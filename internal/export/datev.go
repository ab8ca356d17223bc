// Package export renders posted cases as DATEV bookkeeping CSV batches
// and provides audit trail exports for compliance review.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"aioffice/internal/engine"
	"aioffice/internal/model"
	"aioffice/internal/service"
)

// DATEV EXTF format constants for the batch header.
const (
	datevFormatName    = "Buchungsstapel"
	datevFormatVersion = "13"
	datevVersion       = "700"
	skr03Chart         = "SKR03"
)

var datevColumns = []string{
	"Umsatz",
	"Soll/Haben-Kennzeichen",
	"Konto",
	"Gegenkonto",
	"Belegdatum",
	"Belegfeld 1",
	"Buchungstext",
	"Kontenrahmen",
}

// Batch is the outcome of one DATEV export run.
type Batch struct {
	ExportedAt time.Time
	Cases      []string
	Lines      int
	Skipped    int
}

// DATEVExporter writes posted cases as a DATEV booking batch and moves
// them to exported through the audited transition path.
type DATEVExporter struct {
	storage service.Storage
	engine  *engine.Engine
}

// NewDATEVExporter creates an exporter over the given storage and engine.
func NewDATEVExporter(storage service.Storage, eng *engine.Engine) *DATEVExporter {
	return &DATEVExporter{storage: storage, engine: eng}
}

// Options controls what an export run picks up.
type Options struct {
	PeriodFrom      string
	PeriodTo        string
	IncludeExported bool // re-emit already exported cases without transitioning them
}

// Export writes all posted cases in the period range to w and transitions
// each written case to exported. Cases without a usable accounting entry
// suggestion are skipped and stay posted. With IncludeExported, already
// exported cases are written again but keep their state.
func (x *DATEVExporter) Export(ctx context.Context, w io.Writer, actor string, opts Options) (*Batch, error) {
	states := []model.CaseState{model.StatePosted}
	if opts.IncludeExported {
		states = append(states, model.StateExported)
	}
	cases, err := x.storage.ListCases(ctx, service.CaseFilter{
		States:     states,
		PeriodFrom: opts.PeriodFrom,
		PeriodTo:   opts.PeriodTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list posted cases: %w", err)
	}

	batch := &Batch{ExportedAt: time.Now().UTC()}
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(headerRow(batch.ExportedAt)); err != nil {
		return nil, fmt.Errorf("failed to write batch header: %w", err)
	}
	if err := cw.Write(datevColumns); err != nil {
		return nil, fmt.Errorf("failed to write column header: %w", err)
	}

	for i := range cases {
		c := &cases[i]
		payload, err := bestEntry(ctx, x.storage, c.ID)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			slog.Warn("Case has no accounting entry, skipping", "case", c.Name)
			batch.Skipped++
			continue
		}

		lines, err := bookingRows(c, payload)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.Name, err)
		}
		for _, row := range lines {
			if err := cw.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write booking row: %w", err)
			}
		}
		batch.Lines += len(lines)
		batch.Cases = append(batch.Cases, c.Name)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush batch: %w", err)
	}

	// Transition only after the batch is fully written. Cases re-emitted
	// from exported stay where they are.
	for i := range cases {
		c := &cases[i]
		if c.State != model.StatePosted || !contains(batch.Cases, c.Name) {
			continue
		}
		if _, err := x.engine.Export(ctx, actor, c.ID); err != nil {
			return nil, fmt.Errorf("failed to mark %s exported: %w", c.Name, err)
		}
	}

	slog.Info("DATEV batch exported",
		"cases", len(batch.Cases),
		"lines", batch.Lines,
		"skipped", batch.Skipped,
		"period_from", opts.PeriodFrom,
		"period_to", opts.PeriodTo)
	return batch, nil
}

// WriteSummary emits a plain per-case summary CSV over the same selection
// without transitioning anything.
func (x *DATEVExporter) WriteSummary(ctx context.Context, w io.Writer, opts Options) (int, error) {
	states := []model.CaseState{model.StatePosted}
	if opts.IncludeExported {
		states = append(states, model.StateExported)
	}
	cases, err := x.storage.ListCases(ctx, service.CaseFilter{
		States:     states,
		PeriodFrom: opts.PeriodFrom,
		PeriodTo:   opts.PeriodTo,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list cases: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"case", "state", "partner", "period", "amount", "expense_account"}); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	written := 0
	for i := range cases {
		c := &cases[i]
		amount, account := "", ""
		payload, err := bestEntry(ctx, x.storage, c.ID)
		if err != nil {
			return 0, err
		}
		if payload != nil {
			amount = germanAmount(payload.Amount)
			account = payload.ExpenseAccount
		}
		row := []string{c.Name, string(c.State), c.PartnerName, c.Period, amount, account}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write summary row: %w", err)
		}
		written++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush summary: %w", err)
	}
	return written, nil
}

// bestEntry returns the highest confidence accounting entry payload of a
// case, or nil when none decodes.
func bestEntry(ctx context.Context, store service.Storage, caseID int64) (*model.EntryPayload, error) {
	suggestions, err := store.GetSuggestions(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestions: %w", err)
	}

	var best *model.Suggestion
	for i := range suggestions {
		s := &suggestions[i]
		if s.Type != model.SuggestionAccountingEntry {
			continue
		}
		if best == nil || s.Confidence > best.Confidence {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	payload, err := best.EntryPayload()
	if err != nil {
		slog.Warn("Undecodable entry payload", "suggestion_id", best.ID, "error", err)
		return nil, nil
	}
	return payload, nil
}

func headerRow(at time.Time) []string {
	return []string{
		"EXTF",
		datevVersion,
		"21",
		datevFormatName,
		datevFormatVersion,
		at.Format("20060102150405"),
	}
}

// bookingRows renders one case's entry lines as DATEV rows. Debit lines
// carry S, credit lines H, amounts use the German decimal comma.
func bookingRows(c *model.Case, payload *model.EntryPayload) ([][]string, error) {
	if len(payload.Lines) == 0 {
		return nil, fmt.Errorf("entry payload has no lines")
	}

	contra := contraAccount(payload.Lines)
	date := periodDate(c.Period)

	var rows [][]string
	for _, line := range payload.Lines {
		amount := line.Debit
		side := "S"
		if line.Credit > 0 {
			amount = line.Credit
			side = "H"
		}
		if amount == 0 {
			continue
		}
		// The balancing line is represented by the contra column.
		if line.Account == contra {
			continue
		}
		rows = append(rows, []string{
			germanAmount(amount),
			side,
			line.Account,
			contra,
			date,
			c.Name,
			bookingText(c, line),
			skr03Chart,
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("entry payload has no bookable lines")
	}
	return rows, nil
}

// contraAccount picks the line carrying the full credit side, usually the
// payables account.
func contraAccount(lines []model.EntryLine) string {
	best := ""
	bestAmount := 0.0
	for _, line := range lines {
		if line.Credit > bestAmount {
			bestAmount = line.Credit
			best = line.Account
		}
	}
	return best
}

func bookingText(c *model.Case, line model.EntryLine) string {
	if line.Description != "" {
		return line.Description
	}
	return c.PartnerName
}

// periodDate renders an accounting period as the DATEV document date
// (first day of the period, DDMM format).
func periodDate(period string) string {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return "0101"
	}
	return t.Format("0201")
}

// germanAmount formats an amount with a decimal comma.
func germanAmount(v float64) string {
	return strings.Replace(fmt.Sprintf("%.2f", v), ".", ",", 1)
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
