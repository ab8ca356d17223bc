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

type fakeClient struct {
	lastRequest agents.Request
	suggestions []agents.Suggestion
	err         error
}

func (f *fakeClient) Orchestrate(_ context.Context, req agents.Request) (*agents.Response, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &agents.Response{
		RequestID:   req.RequestID,
		CaseID:      req.CaseID,
		Status:      "ok",
		Suggestions: f.suggestions,
	}, nil
}

func (f *fakeClient) MatchOpenItems(ctx context.Context, req agents.Request) (*agents.Response, error) {
	return f.Orchestrate(ctx, req)
}

func entrySuggestion(confidence, risk float64) agents.Suggestion {
	payload, _ := json.Marshal(model.EntryPayload{
		Amount: 119.0,
		Lines: []model.EntryLine{
			{Account: "6300", Debit: 100.0},
			{Account: "1576", Debit: 19.0},
			{Account: "1600", Credit: 119.0},
		},
	})
	return agents.Suggestion{
		Type:        string(model.SuggestionAccountingEntry),
		Payload:     payload,
		Confidence:  confidence,
		RiskScore:   risk,
		Explanation: "Kontierung nach SKR03",
		AgentName:   "kontierung",
	}
}

func TestOrchestrateFromNew(t *testing.T) {
	e, _ := newTestEngine(t)
	client := &fakeClient{suggestions: []agents.Suggestion{entrySuggestion(0.9, 0.1)}}
	e.client = client

	ctx := context.Background()
	c := newTestCase(t, e)

	result, err := e.Orchestrate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, result.State)

	assert.Equal(t, c.ID, client.lastRequest.CaseID)
	assert.NotEmpty(t, client.lastRequest.RequestID)
	assert.Equal(t, "Mueller GmbH", client.lastRequest.Context.PartnerName)

	suggestions, err := e.Suggestions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, client.lastRequest.RequestID, suggestions[0].RequestID)
	assert.Equal(t, "kontierung", suggestions[0].AgentName)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "enrich", entries[0].Action)
	assert.Equal(t, "orchestrate", entries[1].Action)
	assert.Equal(t, client.lastRequest.RequestID, entries[1].RequestID)
	assert.JSONEq(t, `{"state":"proposed","suggestions_added":1}`, entries[1].AfterJSON)
}

func TestOrchestrateFromEnrichedSkipsEnrich(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{suggestions: []agents.Suggestion{entrySuggestion(0.9, 0.1)}}

	ctx := context.Background()
	c := newTestCase(t, e)
	_, err := e.Enrich(ctx, "alice", c.ID)
	require.NoError(t, err)

	result, err := e.Orchestrate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, result.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "orchestrate", entries[1].Action)
}

func TestOrchestrateRejectedOutsideNewOrEnriched(t *testing.T) {
	e, store := newTestEngine(t)
	e.client = &fakeClient{}

	ctx := context.Background()
	c := newTestCase(t, e)
	require.NoError(t, store.UpdateCaseState(ctx, c.ID, model.StatePosted))

	_, err := e.Orchestrate(ctx, "alice", c.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestOrchestrateLowConfidenceFlagsCase(t *testing.T) {
	e, store := newTestEngine(t)
	e.client = &fakeClient{suggestions: []agents.Suggestion{entrySuggestion(0.5, 0.1)}}

	ctx := context.Background()
	c := newTestCase(t, e)

	rules, err := json.Marshal(model.PolicyRules{ConfidenceThreshold: 0.8, RiskScoreMax: 0.3})
	require.NoError(t, err)
	_, err = store.SavePolicy(ctx, &model.Policy{
		Name:      "supplier defaults",
		Scope:     model.ScopeSupplier,
		Key:       SupplierKey("Mueller GmbH"),
		RulesJSON: string(rules),
		Active:    true,
	})
	require.NoError(t, err)

	result, err := e.Orchestrate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNeedsAttention, result.State)

	// The suggestion is still kept for human review.
	suggestions, err := e.Suggestions(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "flag", entries[1].Action)
	assert.Contains(t, entries[1].AfterJSON, "confidence 0.50 below policy threshold 0.80")
}

func TestOrchestrateHighRiskFlagsCase(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{suggestions: []agents.Suggestion{entrySuggestion(0.9, 0.6)}}

	ctx := context.Background()
	c := newTestCase(t, e)

	result, err := e.Orchestrate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNeedsAttention, result.State)
}

func TestOrchestrateNoEntrySuggestionFlagsCase(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{suggestions: []agents.Suggestion{{
		Type:      string(model.SuggestionValidation),
		Payload:   json.RawMessage(`{"status":"pass"}`),
		AgentName: "validation",
	}}}

	ctx := context.Background()
	c := newTestCase(t, e)

	result, err := e.Orchestrate(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateNeedsAttention, result.State)
}

func TestOrchestrateClientErrorFailsCase(t *testing.T) {
	e, _ := newTestEngine(t)
	e.client = &fakeClient{err: errors.New("connection refused")}

	ctx := context.Background()
	c := newTestCase(t, e)

	result, err := e.Orchestrate(ctx, "alice", c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrOrchestrationFailure)

	var oerr *OrchestrationError
	require.ErrorAs(t, err, &oerr)
	assert.NotEmpty(t, oerr.RequestID)

	require.NotNil(t, result)
	assert.Equal(t, model.StateFailed, result.State)

	entries, err := e.AuditTrail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "fail", entries[1].Action)
	assert.Contains(t, entries[1].AfterJSON, "connection refused")
}

func TestOrchestrateWithoutClient(t *testing.T) {
	e, _ := newTestEngine(t)
	c := newTestCase(t, e)

	_, err := e.Orchestrate(context.Background(), "alice", c.ID)
	require.Error(t, err)
}

func TestSupplierKey(t *testing.T) {
	assert.Equal(t, "mueller-gmbh", SupplierKey("Mueller GmbH"))
	assert.Equal(t, "acme-supplies-ltd", SupplierKey("  Acme Supplies Ltd "))
	assert.Equal(t, "", SupplierKey(""))
}
