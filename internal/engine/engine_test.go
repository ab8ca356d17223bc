package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aioffice/internal/common"
	"aioffice/internal/model"
	"aioffice/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))

	require.NoError(t, store.SaveActor(context.Background(), model.Actor{Name: "carol", Role: model.RoleApprover}))
	require.NoError(t, store.SaveActor(context.Background(), model.Actor{Name: "root", Role: model.RoleAdmin}))

	return New(store, nil), store
}

func newTestCase(t *testing.T, e *Engine) *model.Case {
	t.Helper()

	c, err := e.CreateCase(context.Background(), &model.Case{
		PartnerName: "Mueller GmbH",
		PartnerID:   7,
		CompanyID:   1,
		Period:      "2026-01",
	})
	require.NoError(t, err)
	require.Equal(t, model.StateNew, c.State)
	return c
}

func attachEntry(t *testing.T, e *Engine, caseID int64) {
	t.Helper()

	payload, err := json.Marshal(model.EntryPayload{
		Amount: 119.0,
		Lines: []model.EntryLine{
			{Account: "6300", Debit: 100.0},
			{Account: "1576", Debit: 19.0},
			{Account: "1600", Credit: 119.0},
		},
	})
	require.NoError(t, err)

	_, err = e.AttachSuggestion(context.Background(), &model.Suggestion{
		CaseID:      caseID,
		Type:        model.SuggestionAccountingEntry,
		Payload:     payload,
		Confidence:  0.9,
		Explanation: "test entry",
		AgentName:   "test-agent",
	})
	require.NoError(t, err)
}

func TestEnrichWritesOneAuditEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)

	enriched, err := e.Enrich(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriched, enriched.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "enrich", entry.Action)
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, model.ActorUser, entry.ActorType)
	assert.JSONEq(t, `{"state":"new"}`, entry.BeforeJSON)
	assert.JSONEq(t, `{"state":"enriched"}`, entry.AfterJSON)
}

func TestEnrichRequiresContext(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	c, err := e.CreateCase(ctx, &model.Case{CompanyID: 1})
	require.NoError(t, err)

	_, err = e.Enrich(ctx, "alice", c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.StateNew, terr.State)

	// The rejected attempt must leave no trace.
	current, err := e.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, current.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProposeRequiresSuggestion(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)

	_, err := e.Enrich(ctx, "alice", c.ID)
	require.NoError(t, err)

	_, err = e.Propose(ctx, "alice", c.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	attachEntry(t, e, c.ID)

	proposed, err := e.Propose(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, proposed.State)
}

func TestInvalidTransitionsLeaveNoTrace(t *testing.T) {
	// Every (state, action) pair outside the declared table must be
	// rejected without changing state or touching the audit log.
	allowed := map[model.CaseState][]Action{
		model.StateNew:            {ActionEnrich, ActionFlag, ActionFail},
		model.StateEnriched:       {ActionFlag, ActionFail}, // propose needs a suggestion
		model.StateProposed:       {ActionApprove, ActionFlag, ActionFail},
		model.StateApproved:       {ActionPost, ActionFlag, ActionFail},
		model.StatePosted:         {ActionExport, ActionFlag, ActionFail},
		model.StateExported:       {ActionFail},
		model.StateNeedsAttention: {ActionReset, ActionFlag, ActionFail},
		model.StateFailed:         {ActionReset, ActionFlag, ActionFail},
	}
	isAllowed := func(state model.CaseState, action Action) bool {
		for _, a := range allowed[state] {
			if a == action {
				return true
			}
		}
		return false
	}

	actions := []Action{
		ActionEnrich, ActionPropose, ActionApprove, ActionPost,
		ActionExport, ActionFlag, ActionFail, ActionReset,
	}

	e, store := newTestEngine(t)
	ctx := context.Background()

	for _, state := range model.AllStates {
		for _, action := range actions {
			if isAllowed(state, action) {
				continue
			}
			c := newTestCase(t, e)
			require.NoError(t, store.UpdateCaseState(ctx, c.ID, state))

			_, err := e.transition(ctx, "carol", c.ID, action, nil, "")
			require.Error(t, err, "state=%s action=%s", state, action)
			assert.ErrorIs(t, err, common.ErrInvalidTransition, "state=%s action=%s", state, action)

			current, err := e.Case(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, state, current.State, "state=%s action=%s", state, action)

			entries, err := e.AuditTrail(ctx, c.ID)
			require.NoError(t, err)
			assert.Empty(t, entries, "state=%s action=%s", state, action)
		}
	}
}

func TestApprovalRequiresApproverRole(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)
	require.NoError(t, store.UpdateCaseState(ctx, c.ID, model.StateProposed))

	_, err := e.Approve(ctx, "bob", c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	var aerr *AuthorizationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "bob", aerr.Actor)
	assert.Equal(t, model.StateProposed, aerr.State)

	current, err := e.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, current.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	approved, err := e.Approve(ctx, "carol", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, approved.State)
}

func TestTransitionRequiresActor(t *testing.T) {
	e, _ := newTestEngine(t)
	c := newTestCase(t, e)

	_, err := e.Enrich(context.Background(), "", c.ID)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestHappyPathAuditTrail(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)

	_, err := e.Enrich(ctx, "alice", c.ID)
	require.NoError(t, err)
	attachEntry(t, e, c.ID)
	_, err = e.Propose(ctx, "alice", c.ID)
	require.NoError(t, err)
	_, err = e.Approve(ctx, "carol", c.ID)
	require.NoError(t, err)
	posted, err := e.Post(ctx, "carol", c.ID, 4711)
	require.NoError(t, err)
	assert.Equal(t, int64(4711), posted.MoveID)
	final, err := e.Export(ctx, "carol", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateExported, final.State)
	assert.True(t, final.State.Terminal())

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	wantActions := []string{"enrich", "propose", "approve", "post", "export"}
	for i, entry := range entries {
		assert.Equal(t, wantActions[i], entry.Action, "entry %d", i)
	}
	assert.JSONEq(t, `{"state":"posted","move_id":4711}`, entries[3].AfterJSON)
	assert.JSONEq(t, `{"state":"posted"}`, entries[4].BeforeJSON)
	assert.JSONEq(t, `{"state":"exported"}`, entries[4].AfterJSON)

	// The journal link survives the re-read.
	current, err := e.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4711), current.MoveID)
}

func TestFailAndReset(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)
	require.NoError(t, store.UpdateCaseState(ctx, c.ID, model.StateProposed))

	failed, err := e.Fail(ctx, "alice", c.ID, "agent unreachable")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, failed.State)

	// Reset is a supervised recovery, a plain user cannot do it.
	_, err = e.Reset(ctx, "alice", c.ID)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	reset, err := e.Reset(ctx, "carol", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, reset.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fail", entries[0].Action)
	assert.JSONEq(t, `{"state":"failed","cause":"agent unreachable"}`, entries[0].AfterJSON)
	assert.Equal(t, "reset", entries[1].Action)
}

func TestFlagRecordsReason(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)

	flagged, err := e.Flag(ctx, "alice", c.ID, "amount looks off")
	require.NoError(t, err)
	assert.Equal(t, model.StateNeedsAttention, flagged.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"state":"needs_attention","reason":"amount looks off"}`, entries[0].AfterJSON)
}

func TestFlagRejectedOnExportedCase(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)
	require.NoError(t, store.UpdateCaseState(ctx, c.ID, model.StateExported))

	_, err := e.Flag(ctx, "alice", c.ID, "too late")
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestAttachSuggestionStateGate(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)

	_, err := e.AttachSuggestion(ctx, &model.Suggestion{
		CaseID:    c.ID,
		Type:      model.SuggestionEnrichment,
		AgentName: "test-agent",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	require.NoError(t, store.UpdateCaseState(ctx, c.ID, model.StateEnriched))

	saved, err := e.AttachSuggestion(ctx, &model.Suggestion{
		CaseID:    c.ID,
		Type:      model.SuggestionEnrichment,
		AgentName: "test-agent",
	})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	// Attaching is not a transition and leaves the audit log alone.
	current, err := e.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateEnriched, current.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnknownActorGetsBaseRole(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	c := newTestCase(t, e)
	require.NoError(t, store.UpdateCaseState(ctx, c.ID, model.StateProposed))

	_, err := e.Approve(ctx, "nobody-registered", c.ID)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestTransitionMissingCase(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Enrich(context.Background(), "alice", 9999)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

type recordingNotifier struct {
	events []Action
}

func (n *recordingNotifier) CaseTransitioned(_ context.Context, _ *model.Case, action Action, _ model.CaseState) {
	n.events = append(n.events, action)
}

func TestNotifierSeesCommittedTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	e.SetNotifier(notifier)

	c := newTestCase(t, e)
	_, err := e.Enrich(ctx, "alice", c.ID)
	require.NoError(t, err)

	// A rejected transition must not notify.
	_, err = e.Export(ctx, "alice", c.ID)
	require.Error(t, err)

	assert.Equal(t, []Action{ActionEnrich}, notifier.events)
}
