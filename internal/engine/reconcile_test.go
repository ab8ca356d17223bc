package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aioffice/internal/agents"
	"aioffice/internal/common"
	"aioffice/internal/model"
)

// postedTestCase drives a fresh case through the full lifecycle up to
// posted with a linked journal entry.
func postedTestCase(t *testing.T, e *Engine) *model.Case {
	t.Helper()
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
	return posted
}

func reconciliationSuggestion(t *testing.T, matches int) agents.Suggestion {
	t.Helper()

	payload := model.ReconciliationPayload{
		Matches:         []model.ReconciliationMatch{},
		UnmatchedDebit:  []int64{},
		UnmatchedCredit: []int64{},
	}
	for i := 0; i < matches; i++ {
		payload.Matches = append(payload.Matches, model.ReconciliationMatch{
			DebitLineID:  int64(i + 1),
			CreditLineID: int64(i + 100),
			Amount:       119.0,
			MatchType:    "exact_amount",
			Confidence:   0.80,
		})
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	return agents.Suggestion{
		Type:          string(model.SuggestionReconciliation),
		Payload:       raw,
		Confidence:    0.80,
		RiskScore:     0.20,
		Explanation:   "Found matches",
		RequiresHuman: true,
		AgentName:     "opos_agent",
	}
}

func TestReconcileAttachesSuggestionAndAudits(t *testing.T) {
	e, _ := newTestEngine(t)
	client := &fakeClient{suggestions: []agents.Suggestion{reconciliationSuggestion(t, 1)}}
	e.client = client

	ctx := context.Background()
	c := postedTestCase(t, e)

	openLines := []agents.OpenItem{
		{ID: 1, Balance: 119.0, AmountResidual: 119.0},
		{ID: 2, Balance: -119.0, AmountResidual: -119.0},
	}
	saved, err := e.Reconcile(ctx, "alice", c.ID, openLines)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, model.SuggestionReconciliation, saved[0].Type)
	assert.Equal(t, "opos_agent", saved[0].AgentName)
	assert.NotEmpty(t, saved[0].RequestID)

	assert.Len(t, client.lastRequest.Context.OpenLines, 2)

	// The case does not move; reconciliation is a posted-state activity.
	current, err := e.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePosted, current.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	last := entries[4]
	assert.Equal(t, "opos_match", last.Action)
	assert.Equal(t, "alice", last.Actor)
	assert.Equal(t, saved[0].RequestID, last.RequestID)
	assert.JSONEq(t, `{"state":"posted"}`, last.BeforeJSON)
	assert.JSONEq(t, `{"state":"posted","suggestions_added":1,"matches":1}`, last.AfterJSON)
}

func TestReconcileOnlyFromPosted(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{}

	ctx := context.Background()
	c := newTestCase(t, e)

	_, err := e.Reconcile(ctx, "alice", c.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReconcileRequiresLinkedMove(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{}

	ctx := context.Background()
	c := newTestCase(t, e)
	_, err := e.Enrich(ctx, "alice", c.ID)
	require.NoError(t, err)
	attachEntry(t, e, c.ID)
	_, err = e.Propose(ctx, "alice", c.ID)
	require.NoError(t, err)
	_, err = e.Approve(ctx, "carol", c.ID)
	require.NoError(t, err)
	_, err = e.Post(ctx, "carol", c.ID, 0)
	require.NoError(t, err)

	_, err = e.Reconcile(ctx, "alice", c.ID, nil)
	require.Error(t, err)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "no journal entry linked", terr.Reason)
}

func TestReconcileClientErrorLeavesCaseAlone(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{err: errors.New("connection refused")}

	ctx := context.Background()
	c := postedTestCase(t, e)

	_, err := e.Reconcile(ctx, "alice", c.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrOrchestrationFailure)

	// Unlike orchestration, a failed matching run is purely advisory and
	// must not fail the case.
	current, err := e.Case(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePosted, current.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestApplyReconciliation(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{suggestions: []agents.Suggestion{reconciliationSuggestion(t, 1)}}

	ctx := context.Background()
	c := postedTestCase(t, e)
	_, err := e.Reconcile(ctx, "alice", c.ID, nil)
	require.NoError(t, err)

	result, err := e.ApplyReconciliation(ctx, "carol", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePosted, result.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, "reconciliation_applied", entries[5].Action)
	assert.Equal(t, "carol", entries[5].Actor)
	assert.Contains(t, entries[5].AfterJSON, "suggestions_applied")
}

func TestApplyReconciliationRequiresApprover(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{suggestions: []agents.Suggestion{reconciliationSuggestion(t, 1)}}

	ctx := context.Background()
	c := postedTestCase(t, e)
	_, err := e.Reconcile(ctx, "alice", c.ID, nil)
	require.NoError(t, err)

	_, err = e.ApplyReconciliation(ctx, "alice", c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestApplyReconciliationNeedsSuggestion(t *testing.T) {
	e, _ := newTestEngine(t)

	ctx := context.Background()
	c := postedTestCase(t, e)

	_, err := e.ApplyReconciliation(ctx, "carol", c.ID)
	require.Error(t, err)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "no reconciliation suggestions attached", terr.Reason)
}
