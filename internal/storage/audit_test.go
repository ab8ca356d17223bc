package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aioffice/internal/common"
	"aioffice/internal/model"
)

func appendTestEntry(t *testing.T, store *SQLiteStorage, caseID int64, action string) *model.AuditEntry {
	t.Helper()
	entry, err := store.AppendAuditEntry(context.Background(), &model.AuditEntry{
		CaseID:     caseID,
		ActorType:  model.ActorUser,
		Actor:      "clerk",
		Action:     action,
		BeforeJSON: `{"state":"new"}`,
		AfterJSON:  `{"state":"enriched"}`,
	})
	if err != nil {
		t.Fatalf("AppendAuditEntry failed: %v", err)
	}
	return entry
}

func TestSQLiteStorage_AppendAuditEntry(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	c := createTestCase(t, store)
	appendTestEntry(t, store, c.ID, "enrich")
	appendTestEntry(t, store, c.ID, "propose")

	entries, err := store.GetAuditEntries(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetAuditEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit length = %d, want 2", len(entries))
	}
	if entries[0].Action != "enrich" || entries[1].Action != "propose" {
		t.Errorf("entries out of order: %q, %q", entries[0].Action, entries[1].Action)
	}

	// Appending against a missing case fails
	_, err = store.AppendAuditEntry(ctx, &model.AuditEntry{
		CaseID:    9999,
		ActorType: model.ActorUser,
		Actor:     "clerk",
		Action:    "enrich",
	})
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing case error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_AuditImmutableAtSchemaLevel(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	c := createTestCase(t, store)
	entry := appendTestEntry(t, store, c.ID, "enrich")

	// Raw writes bypass every application guard; the triggers still refuse.
	if _, err := store.db.ExecContext(ctx,
		`UPDATE audit_log SET action = 'tampered' WHERE id = ?`, entry.ID); err == nil {
		t.Fatal("raw UPDATE on audit_log succeeded, trigger missing")
	} else if !strings.Contains(err.Error(), "immutable") {
		t.Errorf("unexpected update error: %v", err)
	}

	if _, err := store.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE id = ?`, entry.ID); err == nil {
		t.Fatal("raw DELETE on audit_log succeeded, trigger missing")
	} else if !strings.Contains(err.Error(), "cannot be deleted") {
		t.Errorf("unexpected delete error: %v", err)
	}
}

func TestSQLiteStorage_DeleteAuditEntryRequiresBypass(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	c := createTestCase(t, store)
	entry := appendTestEntry(t, store, c.ID, "enrich")

	for _, actor := range []model.Actor{
		{Name: "clerk", Role: model.RoleUser},
		{Name: "lead", Role: model.RoleApprover},
	} {
		err := store.DeleteAuditEntry(ctx, entry.ID, actor)
		if !errors.Is(err, common.ErrComplianceViolation) {
			t.Errorf("%s deletion error = %v, want ErrComplianceViolation", actor.Name, err)
		}
	}

	entries, err := store.GetAuditEntries(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetAuditEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit length changed after refused deletions: %d", len(entries))
	}
}

func TestSQLiteStorage_DeleteAuditEntryBypassRecorded(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	c := createTestCase(t, store)
	entry := appendTestEntry(t, store, c.ID, "enrich")

	admin := model.Actor{Name: "compliance", Role: model.RoleAdmin}
	if err := store.DeleteAuditEntry(ctx, entry.ID, admin); err != nil {
		t.Fatalf("bypass deletion failed: %v", err)
	}

	entries, err := store.GetAuditEntries(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetAuditEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("audit length = %d, want 1 (the bypass record)", len(entries))
	}
	if entries[0].Action != "audit_delete" {
		t.Errorf("bypass record action = %q, want audit_delete", entries[0].Action)
	}
	if entries[0].Actor != "compliance" {
		t.Errorf("bypass record actor = %q, want compliance", entries[0].Actor)
	}
	if !strings.Contains(entries[0].BeforeJSON, `"action":"enrich"`) {
		t.Errorf("bypass record missing deleted entry snapshot: %s", entries[0].BeforeJSON)
	}

	// Bypass table must be empty outside the deletion transaction
	var tokens int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_bypass`).Scan(&tokens); err != nil {
		t.Fatalf("failed to count bypass tokens: %v", err)
	}
	if tokens != 0 {
		t.Errorf("bypass tokens left armed: %d", tokens)
	}

	if err := store.DeleteAuditEntry(ctx, 9999, admin); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing entry error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_GetAuditEntriesByDateRange(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	c := createTestCase(t, store)
	appendTestEntry(t, store, c.ID, "enrich")

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	entries, err := store.GetAuditEntriesByDateRange(ctx, start, end)
	if err != nil {
		t.Fatalf("GetAuditEntriesByDateRange failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("window returned %d entries, want 1", len(entries))
	}

	if _, err := store.GetAuditEntriesByDateRange(ctx, end, start); !errors.Is(err, ErrInvalidDateRange) {
		t.Errorf("inverted range error = %v, want ErrInvalidDateRange", err)
	}
}
