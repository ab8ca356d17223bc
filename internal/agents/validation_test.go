package agents

import (
	"context"
	"encoding/json"
	"testing"

	"aioffice/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entrySuggestion(t *testing.T, payload model.EntryPayload, confidence, risk float64) Suggestion {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Suggestion{
		Type:       string(model.SuggestionAccountingEntry),
		Payload:    raw,
		Confidence: confidence,
		RiskScore:  risk,
		AgentName:  "kontierung_agent",
	}
}

func decodeValidation(t *testing.T, s Suggestion) validationPayload {
	t.Helper()
	var payload validationPayload
	require.NoError(t, json.Unmarshal(s.Payload, &payload))
	return payload
}

func TestValidationAgent_Pass(t *testing.T) {
	agent := NewValidationAgent()

	entry := entrySuggestion(t, model.EntryPayload{
		Lines: []model.EntryLine{
			{Account: "4930", Debit: 100.00, Description: "Bürobedarf"},
			{Account: "1576", Debit: 19.00, Description: "Vorsteuer"},
			{Account: "1600", Credit: 119.00, Description: "Verbindlichkeiten"},
		},
	}, 0.92, 0.05)

	results, err := agent.Validate(context.Background(), Request{}, []Suggestion{entry})
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, string(model.SuggestionValidation), result.Type)
	assert.Equal(t, 1.0, result.Confidence)
	assert.False(t, result.RequiresHuman)

	payload := decodeValidation(t, result)
	assert.Equal(t, "pass", payload.Status)
	assert.Empty(t, payload.Errors)
}

func TestValidationAgent_UnbalancedEntry(t *testing.T) {
	agent := NewValidationAgent()

	entry := entrySuggestion(t, model.EntryPayload{
		Lines: []model.EntryLine{
			{Account: "4930", Debit: 100.00, Description: "Bürobedarf"},
			{Account: "1600", Credit: 80.00, Description: "Verbindlichkeiten"},
		},
	}, 0.9, 0.1)

	results, err := agent.Validate(context.Background(), Request{}, []Suggestion{entry})
	require.NoError(t, err)

	payload := decodeValidation(t, results[0])
	assert.Equal(t, "fail", payload.Status)
	require.NotEmpty(t, payload.Errors)
	assert.Contains(t, payload.Errors[0], "not balanced")
	assert.True(t, results[0].RequiresHuman)
}

func TestValidationAgent_AccountCodeWarnings(t *testing.T) {
	agent := NewValidationAgent()

	entry := entrySuggestion(t, model.EntryPayload{
		Lines: []model.EntryLine{
			{Account: "ABC", Debit: 50.00, Description: "kaputt"},
			{Account: "5500", Credit: 50.00, Description: "außerhalb SKR03"},
		},
	}, 0.9, 0.1)

	results, err := agent.Validate(context.Background(), Request{}, []Suggestion{entry})
	require.NoError(t, err)

	payload := decodeValidation(t, results[0])
	require.Len(t, payload.Warnings, 2)
	assert.Contains(t, payload.Warnings[0], "not a valid number")
	assert.Contains(t, payload.Warnings[1], "outside SKR03 ranges")
}

func TestValidationAgent_PolicyThresholds(t *testing.T) {
	agent := NewValidationAgent()

	entry := entrySuggestion(t, model.EntryPayload{
		Lines: []model.EntryLine{
			{Account: "4930", Debit: 100.00, Description: "ok"},
			{Account: "1600", Credit: 100.00, Description: "ok"},
		},
	}, 0.70, 0.25)

	req := Request{Context: CaseContext{Policies: []PolicyRef{
		{Scope: "company", Rules: model.PolicyRules{ConfidenceThreshold: 0.9, RiskScoreMax: 0.2}},
	}}}

	results, err := agent.Validate(context.Background(), req, []Suggestion{entry})
	require.NoError(t, err)

	payload := decodeValidation(t, results[0])
	assert.Equal(t, "fail", payload.Status)
	require.Len(t, payload.Errors, 1)
	assert.Contains(t, payload.Errors[0], "Risk score")
	require.Len(t, payload.Warnings, 1)
	assert.Contains(t, payload.Warnings[0], "Confidence")
}

func TestValidationAgent_NoEntries(t *testing.T) {
	agent := NewValidationAgent()

	results, err := agent.Validate(context.Background(), Request{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	payload := decodeValidation(t, results[0])
	assert.Equal(t, "fail", payload.Status)
	assert.Contains(t, payload.Errors[0], "No accounting entry suggestion")
}

func TestPipeline_DummyFallback(t *testing.T) {
	pipeline := NewPipeline()

	resp, err := pipeline.Run(context.Background(), Request{CaseID: 9, RequestID: "req-9"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, "dummy_agent", resp.Suggestions[0].AgentName)
}

func TestPipeline_FullChain(t *testing.T) {
	pipeline := NewPipeline()

	resp, err := pipeline.Run(context.Background(), Request{
		CaseID:    10,
		RequestID: "req-10",
		Context: CaseContext{
			PartnerName: "Muster GmbH",
			AmountTotal: 119.00,
			Policies: []PolicyRef{
				{Scope: "supplier", Key: "muster-gmbh", Rules: model.PolicyRules{DefaultAccount: "4930"}},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 2)
	assert.Equal(t, "kontierung_agent", resp.Suggestions[0].AgentName)
	assert.Equal(t, "validation_agent", resp.Suggestions[1].AgentName)

	payload := decodeValidation(t, resp.Suggestions[1])
	assert.Equal(t, "pass", payload.Status)
}
