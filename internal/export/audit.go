package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"aioffice/internal/service"
)

var auditColumns = []string{
	"id", "case_id", "actor_type", "actor", "action",
	"before", "after", "request_id", "created_at",
}

// AuditExporter renders the audit trail for external review. The export
// is a read, it never touches the log itself.
type AuditExporter struct {
	storage service.Storage
}

// NewAuditExporter creates an audit exporter over the given storage.
func NewAuditExporter(storage service.Storage) *AuditExporter {
	return &AuditExporter{storage: storage}
}

// WriteCSV exports audit entries in the date range as CSV.
func (x *AuditExporter) WriteCSV(ctx context.Context, w io.Writer, start, end time.Time) (int, error) {
	entries, err := x.storage.GetAuditEntriesByDateRange(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load audit entries: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(auditColumns); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.ID, 10),
			strconv.FormatInt(e.CaseID, 10),
			string(e.ActorType),
			e.Actor,
			e.Action,
			e.BeforeJSON,
			e.AfterJSON,
			e.RequestID,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write entry %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush audit export: %w", err)
	}
	return len(entries), nil
}

// WriteJSON exports audit entries in the date range as a JSON array.
func (x *AuditExporter) WriteJSON(ctx context.Context, w io.Writer, start, end time.Time) (int, error) {
	entries, err := x.storage.GetAuditEntriesByDateRange(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to load audit entries: %w", err)
	}

	type entryJSON struct {
		CreatedAt time.Time       `json:"created_at"`
		ActorType string          `json:"actor_type"`
		Actor     string          `json:"actor"`
		Action    string          `json:"action"`
		Before    json.RawMessage `json:"before"`
		After     json.RawMessage `json:"after"`
		RequestID string          `json:"request_id,omitempty"`
		ID        int64           `json:"id"`
		CaseID    int64           `json:"case_id"`
	}

	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{
			ID:        e.ID,
			CaseID:    e.CaseID,
			ActorType: string(e.ActorType),
			Actor:     e.Actor,
			Action:    e.Action,
			Before:    rawOrNull(e.BeforeJSON),
			After:     rawOrNull(e.AfterJSON),
			RequestID: e.RequestID,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("failed to encode audit export: %w", err)
	}
	return len(out), nil
}

func rawOrNull(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
